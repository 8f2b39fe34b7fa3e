package ipc

import "fmt"

// Kind is the call shape of a method, fixed at declaration.
type Kind int

const (
	// KindRequest calls wait for exactly one reply.
	KindRequest Kind = iota
	// KindSend calls are fire-and-forget.
	KindSend
	// KindStream calls open a bidirectional stream of payloads.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindSend:
		return "send"
	case KindStream:
		return "stream"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MethodDescriptor declares one method. A zero ID assigns the channel by
// position in the method table, starting at 1. Both ends of a connection
// must declare the same table.
type MethodDescriptor struct {
	Name string
	Kind Kind
	ID   uint32
}

func Request(name string) MethodDescriptor {
	return MethodDescriptor{Name: name, Kind: KindRequest}
}

func Send(name string) MethodDescriptor {
	return MethodDescriptor{Name: name, Kind: KindSend}
}

func Stream(name string) MethodDescriptor {
	return MethodDescriptor{Name: name, Kind: KindStream}
}

// DefaultMethods returns the platform control plane table.
func DefaultMethods() []MethodDescriptor {
	return []MethodDescriptor{
		Stream("info"),
		Stream("dump"),
		Stream("seed"),
		Stream("stage"),
		Stream("release"),
		Stream("messages"),
		Request("message"),
		Request("config"),
		Request("checkpoint"),
		Request("versions"),
		Request("address"),
		Request("detached"),
		Request("trust"),
		Request("identify"),
		Request("wakeup"),
		Request("start"),
		Request("restart"),
		Request("unloading"),
		Request("shutdown"),
		Request("closeClients"),
	}
}

// buildMethodTable validates the table and assigns channel ids. Nothing is
// returned unless the whole table is valid.
func buildMethodTable(descs []MethodDescriptor) ([]MethodDescriptor, error) {
	out := make([]MethodDescriptor, 0, len(descs))
	names := make(map[string]struct{}, len(descs))
	ids := make(map[uint32]string, len(descs))

	for i, desc := range descs {
		if desc.Name == "" {
			return nil, configErrorf("", "method at position %d has no name", i)
		}
		if IsReserved(desc.Name) || desc.Name == pingMethodName {
			return nil, configErrorf(desc.Name, "illegal method name")
		}
		if desc.Kind < KindRequest || desc.Kind > KindStream {
			return nil, configErrorf(desc.Name, "invalid kind %s", desc.Kind)
		}
		if _, ok := names[desc.Name]; ok {
			return nil, configErrorf(desc.Name, "declared more than once")
		}
		names[desc.Name] = struct{}{}

		if desc.ID == 0 {
			desc.ID = uint32(i + 1)
		}
		if other, ok := ids[desc.ID]; ok {
			return nil, configErrorf(desc.Name, "channel id %d already used by %q", desc.ID, other)
		}
		ids[desc.ID] = desc.Name

		out = append(out, desc)
	}
	return out, nil
}
