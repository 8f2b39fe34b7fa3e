package rpc

import (
	"fmt"

	"github.com/kbirk/pipc/pkg/serialize"
)

type frame struct {
	kind    uint8
	flags   uint8
	channel uint32
	id      uint64
	payload []byte
}

func (f frame) encode() []byte {
	writer := serialize.NewFixedSizeWriter(
		serialize.ByteSizeUInt8(f.kind) +
			serialize.ByteSizeUInt8(f.flags) +
			serialize.ByteSizeUInt32(f.channel) +
			serialize.ByteSizeUInt64(f.id) +
			serialize.ByteSizeBytes(f.payload))

	serialize.SerializeUInt8(writer, f.kind)
	serialize.SerializeUInt8(writer, f.flags)
	serialize.SerializeUInt32(writer, f.channel)
	serialize.SerializeUInt64(writer, f.id)
	serialize.SerializeBytes(writer, f.payload)
	return writer.Bytes()
}

func decodeFrame(bs []byte) (frame, error) {
	var f frame
	if len(bs) < FrameHeaderSize {
		return f, fmt.Errorf("frame too short: %d bytes", len(bs))
	}

	reader := serialize.NewReader(bs)

	err := serialize.DeserializeUInt8(&f.kind, reader)
	if err != nil {
		return f, err
	}
	err = serialize.DeserializeUInt8(&f.flags, reader)
	if err != nil {
		return f, err
	}
	err = serialize.DeserializeUInt32(&f.channel, reader)
	if err != nil {
		return f, err
	}
	err = serialize.DeserializeUInt64(&f.id, reader)
	if err != nil {
		return f, err
	}
	f.payload = reader.Rest()

	if f.kind < frameSend || f.kind > frameStreamDestroy {
		return f, fmt.Errorf("unexpected frame type: %d", f.kind)
	}
	return f, nil
}
