package buffer

import (
	"github.com/appnet-org/owlnet/pkg/config"
	"github.com/appnet-org/owlnet/pkg/transform"
)

// buildPipeline assembles the send/receive transform chain every role wires
// identically around its sockets (spec §4.2): bandwidth accounting at the
// edges, compression in the middle, gated by cfg.
func buildPipeline(cfg *config.Config) *transform.Pipeline {
	p := transform.New()
	if cfg.MeasureBandwidth {
		p.Add(transform.PriorityIncomingBandwidth, transform.NewIncomingBandwidthStep())
		p.Add(transform.PriorityOutgoingBandwidth, transform.NewOutgoingBandwidthStep())
	}
	if cfg.UseCompression {
		p.Add(transform.PriorityCompression, &transform.CompressionStep{})
	}
	return p
}
