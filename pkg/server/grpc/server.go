package grpc

import (
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	reflectionv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"

	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
)

// NewServer creates a grpc.Server with:
//   - the reflection service answering from the compiled schemas
//   - an UnknownServiceHandler forwarding every call to rt as an HTTP POST
func NewServer(rt http.RoundTripper, schemas schema.DescriptorRegistry, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpc.NewServer(
		grpc.ForceServerCodecV2(newRawCodec()),
		grpc.ChainStreamInterceptor(StreamInterceptor(schemas, logger)),
		grpc.UnknownServiceHandler(Handler(rt, schemas, logger)),
	)
	reflectionv1.RegisterServerReflectionServer(srv, schema.NewReflectionServer(schemas))
	return srv
}
