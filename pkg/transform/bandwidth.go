package transform

import "sync/atomic"

// BandwidthMeter accumulates byte counts. It is updated only from the
// worker thread (spec §5, "shared resources"), but exposes atomic reads so
// the caller thread can sample it without extra synchronization.
type BandwidthMeter struct {
	bytes atomic.Int64
}

func (m *BandwidthMeter) Bytes() int64 { return m.bytes.Load() }

func (m *BandwidthMeter) add(n int) { m.bytes.Add(int64(n)) }

// IncomingBandwidthStep records raw bytes read off the socket, before any
// other transform runs. Register it at PriorityIncomingBandwidth.
type IncomingBandwidthStep struct {
	Meter *BandwidthMeter
}

func NewIncomingBandwidthStep() *IncomingBandwidthStep {
	return &IncomingBandwidthStep{Meter: &BandwidthMeter{}}
}

func (s *IncomingBandwidthStep) OnSend(packet []byte) ([]byte, error) { return packet, nil }
func (s *IncomingBandwidthStep) OnReceive(packet []byte) ([]byte, error) {
	s.Meter.add(len(packet))
	return packet, nil
}
func (s *IncomingBandwidthStep) Name() string { return "incoming-bandwidth" }

// OutgoingBandwidthStep records the final bytes written to the socket,
// after every other send-side transform has run. Register it at
// PriorityOutgoingBandwidth.
type OutgoingBandwidthStep struct {
	Meter *BandwidthMeter
}

func NewOutgoingBandwidthStep() *OutgoingBandwidthStep {
	return &OutgoingBandwidthStep{Meter: &BandwidthMeter{}}
}

func (s *OutgoingBandwidthStep) OnSend(packet []byte) ([]byte, error) {
	s.Meter.add(len(packet))
	return packet, nil
}
func (s *OutgoingBandwidthStep) OnReceive(packet []byte) ([]byte, error) { return packet, nil }
func (s *OutgoingBandwidthStep) Name() string                            { return "outgoing-bandwidth" }
