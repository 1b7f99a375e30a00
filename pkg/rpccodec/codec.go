package rpccodec

import (
	"github.com/appnet-org/owlnet/pkg/ids"
)

// ClientIdArg lets an injection slot be round-tripped through the same
// Encodable-shaped args list the caller passes to Encode, even though its
// bytes never actually hit the wire; Decode fills it in from the header.
type ClientIdArg struct{ ClientId ids.ClientId }

func (ClientIdArg) EncodedLen() int                  { return 0 }
func (ClientIdArg) Write(into []byte) (int, error)   { return 0, nil }
func (ClientIdArg) Read(from []byte) (int, error)    { return 0, nil }

// Encode writes the RPC header followed by each argument, skipping the
// positions named by callerInjectionIndex/calleeInjectionIndex (spec §4.4):
// those values are recovered from the header on the receiving side rather
// than written twice.
func Encode(h Header, args []ids.Encodable, callerInjectionIndex, calleeInjectionIndex int) ([]byte, error) {
	headerLen := HeaderLen(h.RpcId)
	total := headerLen
	for i, a := range args {
		if i == callerInjectionIndex || i == calleeInjectionIndex {
			continue
		}
		total += a.EncodedLen()
	}

	buf := make([]byte, total)
	off := writeHeader(buf, h)
	for i, a := range args {
		if i == callerInjectionIndex || i == calleeInjectionIndex {
			continue
		}
		n, err := a.Write(buf[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	return buf, nil
}

// Decode parses an RPC message encoded by Encode. The registry supplies the
// rpcId's declared argument shape; positions at CallerInjectionIndex /
// CalleeInjectionIndex are filled from the decoded header instead of being
// read off the wire.
func Decode(data []byte, registry ProtocolRegistry) (Header, []ids.Encodable, error) {
	h, off, err := readHeader(data)
	if err != nil {
		return Header{}, nil, err
	}

	desc, ok := registry.Lookup(h.RpcId)
	if !ok {
		return Header{}, nil, ErrUnknownRPC
	}

	args := make([]ids.Encodable, len(desc.ArgFactories))
	for i, factory := range desc.ArgFactories {
		if i == desc.CallerInjectionIndex {
			args[i] = ClientIdArg{ClientId: h.CallerId}
			continue
		}
		if i == desc.CalleeInjectionIndex {
			args[i] = ClientIdArg{ClientId: h.CalleeId}
			continue
		}
		arg := factory()
		n, err := arg.Read(data[off:])
		if err != nil {
			return Header{}, nil, err
		}
		off += n
		args[i] = arg
	}

	return h, args, nil
}
