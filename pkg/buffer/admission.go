package buffer

import "github.com/appnet-org/owlnet/pkg/config"

// ValidateAdmission applies the server's admission checks (spec §4.5.1
// step 1) against a decoded ConnectionRequest. currentClients and
// pendingRequests are the live counts at the moment of the request; both
// must stay strictly below cfg.MaxClients. remoteIP is checked against
// cfg.Whitelist when non-empty. allowHost controls whether isHost=true is
// acceptable (false for a plain server, which always rejects it; a relay
// passes true and applies its own host-selection policy separately).
func ValidateAdmission(cfg *config.Config, req ConnectionRequest, currentClients, pendingRequests int, remoteIP string, allowHost bool) ConnectionResponseCode {
	if req.AppId.Value != cfg.AppID || req.SessionId.Value != cfg.SessionID {
		return IncorrectAppId
	}
	if req.IsHost && !allowHost {
		return Rejected
	}
	if currentClients >= cfg.MaxClients || pendingRequests >= cfg.MaxClients {
		return ServerFull
	}
	if len(cfg.Whitelist) > 0 && !contains(cfg.Whitelist, remoteIP) {
		return Rejected
	}
	return Accepted
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
