package grpc

import (
	"encoding/base64"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
)

type wrappedServerStream struct {
	grpc.ServerStream
	logger           *zap.Logger
	methodDescriptor protoreflect.MethodDescriptor
	received, sent   int
}

// StreamInterceptor logs every call with its code and duration, and the
// decoded messages at debug level.
func StreamInterceptor(schemas schema.DescriptorRegistry, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		w := &wrappedServerStream{
			ServerStream: ss,
			logger:       logger.With(zap.String("method", info.FullMethod)),
		}
		if md, ok := schemas.GetMethodDescriptor(info.FullMethod); ok {
			w.methodDescriptor = md
		}

		err := handler(srv, w)
		s, _ := status.FromError(err)
		w.logger.Info("grpc call",
			zap.Stringer("code", s.Code()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("received", w.received),
			zap.Int("sent", w.sent))
		return err
	}
}

func (w *wrappedServerStream) SendMsg(m any) error {
	w.sent++
	w.logMessage("send", m)
	return w.ServerStream.SendMsg(m)
}

func (w *wrappedServerStream) RecvMsg(m any) error {
	err := w.ServerStream.RecvMsg(m)
	if err == nil {
		w.received++
		w.logMessage("recv", m)
	}
	return err
}

func (w *wrappedServerStream) logMessage(direction string, payload any) {
	if ce := w.logger.Check(zap.DebugLevel, "grpc message"); ce != nil {
		ce.Write(zap.String("direction", direction), zap.String("payload", w.render(direction, payload)))
	}
}

func (w *wrappedServerStream) render(direction string, payload any) string {
	switch m := payload.(type) {
	case proto.Message:
		b, err := protojson.Marshal(m)
		if err != nil {
			return "<invalid proto>"
		}
		return string(b)
	case *[]byte:
		return w.render(direction, *m)
	case []byte:
		if w.methodDescriptor != nil {
			desc := w.methodDescriptor.Output()
			if direction == "recv" {
				desc = w.methodDescriptor.Input()
			}
			dyn := dynamicpb.NewMessage(desc)
			if err := proto.Unmarshal(m, dyn); err == nil {
				if b, err := protojson.Marshal(dyn); err == nil {
					return string(b)
				}
			}
		}
		return base64.StdEncoding.EncodeToString(m)
	}
	return "<unknown>"
}
