// Package transform implements the ordered read/send transform pipeline
// from spec §4.2: compression, bandwidth accounting, and user hooks applied
// to the whole packet (header included) around socket I/O.
package transform

import "sort"

// Reserved priorities (spec §4.2). User steps may use any other integer.
const (
	PriorityIncomingBandwidth = 0
	PriorityCompression       = 100
	PriorityOutgoingBandwidth = 200
)

// Step is a single transform applied to an outbound or inbound packet.
// Implementations generalize the teacher's RPCElement request/response
// hooks (pkg/rpc/element.RPCElement) to operate on whole packet bytes
// rather than RPC request/response values.
type Step interface {
	// OnSend runs just before the socket write, low-to-high priority.
	OnSend(packet []byte) ([]byte, error)
	// OnReceive runs just after the socket read, low-to-high priority.
	OnReceive(packet []byte) ([]byte, error)
	Name() string
}

type entry struct {
	priority int
	step     Step
}

// Pipeline is a priority-ordered list of Steps.
type Pipeline struct {
	entries []entry
}

// New builds an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Add inserts step at the given priority, keeping entries sorted ascending.
// Re-adding the same priority appends after existing entries at that
// priority, preserving insertion order for ties.
func (p *Pipeline) Add(priority int, step Step) {
	p.entries = append(p.entries, entry{priority, step})
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].priority < p.entries[j].priority
	})
}

// Remove drops the first step matching name, returning whether one was
// found.
func (p *Pipeline) Remove(name string) bool {
	for i, e := range p.entries {
		if e.step.Name() == name {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ApplySend runs steps low-to-high priority, just before a socket write.
func (p *Pipeline) ApplySend(packet []byte) ([]byte, error) {
	var err error
	for _, e := range p.entries {
		packet, err = e.step.OnSend(packet)
		if err != nil {
			return nil, err
		}
	}
	return packet, nil
}

// ApplyReceive runs steps low-to-high priority, just after a socket read.
func (p *Pipeline) ApplyReceive(packet []byte) ([]byte, error) {
	var err error
	for _, e := range p.entries {
		packet, err = e.step.OnReceive(packet)
		if err != nil {
			return nil, err
		}
	}
	return packet, nil
}

// Steps returns the steps in priority order, for introspection/tests.
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.step
	}
	return out
}
