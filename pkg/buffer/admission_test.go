package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/ids"
)

func testConfig() *config.Config {
	return config.New(
		config.WithAppID("game"),
		config.WithSessionID("session-1"),
		config.WithMaxClients(2),
	)
}

func TestValidateAdmissionAccepts(t *testing.T) {
	cfg := testConfig()
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("session-1")}
	require.Equal(t, Accepted, ValidateAdmission(cfg, req, 0, 0, "1.2.3.4", false))
}

func TestValidateAdmissionRejectsWrongAppId(t *testing.T) {
	cfg := testConfig()
	req := ConnectionRequest{AppId: ids.NewStringId("other"), SessionId: ids.NewStringId("session-1")}
	require.Equal(t, IncorrectAppId, ValidateAdmission(cfg, req, 0, 0, "1.2.3.4", false))
}

func TestValidateAdmissionRejectsHostOnPlainServer(t *testing.T) {
	cfg := testConfig()
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("session-1"), IsHost: true}
	require.Equal(t, Rejected, ValidateAdmission(cfg, req, 0, 0, "1.2.3.4", false))
}

func TestValidateAdmissionAllowsHostOnRelay(t *testing.T) {
	cfg := testConfig()
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("session-1"), IsHost: true}
	require.Equal(t, Accepted, ValidateAdmission(cfg, req, 0, 0, "1.2.3.4", true))
}

func TestValidateAdmissionRejectsWhenServerFull(t *testing.T) {
	cfg := testConfig()
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("session-1")}
	require.Equal(t, ServerFull, ValidateAdmission(cfg, req, 2, 0, "1.2.3.4", false))
	require.Equal(t, ServerFull, ValidateAdmission(cfg, req, 0, 2, "1.2.3.4", false))
}

func TestValidateAdmissionEnforcesWhitelist(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = []string{"5.6.7.8"}
	req := ConnectionRequest{AppId: ids.NewStringId("game"), SessionId: ids.NewStringId("session-1")}
	require.Equal(t, Rejected, ValidateAdmission(cfg, req, 0, 0, "1.2.3.4", false))
	require.Equal(t, Accepted, ValidateAdmission(cfg, req, 0, 0, "5.6.7.8", false))
}
