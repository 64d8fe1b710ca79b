package grpc

import (
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/mem"
)

// rawCodec lets the handler receive and send undecoded frames ([]byte)
// for methods without a known descriptor, and delegates proto messages to
// the regular proto codec.
type rawCodec struct{ parent encoding.CodecV2 }

func newRawCodec() *rawCodec {
	return &rawCodec{parent: encoding.GetCodecV2("proto")}
}

func (c *rawCodec) Marshal(v any) (mem.BufferSlice, error) {
	if data, ok := v.([]byte); ok {
		return mem.BufferSlice{mem.SliceBuffer(data)}, nil
	}
	return c.parent.Marshal(v)
}

func (c *rawCodec) Unmarshal(data mem.BufferSlice, v any) error {
	if frame, ok := v.(*[]byte); ok {
		*frame = data.Materialize()
		return nil
	}
	return c.parent.Unmarshal(data, v)
}

// Name is never negotiated: the codec is forced on the server.
func (c *rawCodec) Name() string {
	return "raw"
}
