package grpc_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marcaudefroy/hot-api-mock/pkg/dispatch"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/proxy"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
	grpcServer "github.com/marcaudefroy/hot-api-mock/pkg/server/grpc"
)

const deviceProto = `syntax = "proto3";
package scrutiny;

message DeviceRequest { string wwn = 1; }
message Device {
  string wwn = 1;
  string device_name = 2;
  bool muted = 3;
}
service DeviceService {
  rpc GetDevice (DeviceRequest) returns (Device);
}`

const getDevice = "/scrutiny.DeviceService/GetDevice"

type fixture struct {
	registry *mocks.DefaultRegistry
	schemas  schema.DescriptorRegistry
	conn     *grpc.ClientConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	schemas := schema.NewDescriptorRegistry(nil)
	require.NoError(t, schemas.RegisterProtoFile("device.proto", deviceProto))
	reg := mocks.NewRegistry()

	lis := bufconn.Listen(1 << 20)
	srv := grpcServer.NewServer(dispatch.New(reg, dispatch.WithNext(proxy.NotFound())), schemas, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{registry: reg, schemas: schemas, conn: conn}
}

func (f *fixture) getDevice(t *testing.T, wwn string, opts ...grpc.CallOption) (*dynamicpb.Message, error) {
	t.Helper()
	md, ok := f.schemas.GetMethodDescriptor(getDevice)
	require.True(t, ok)
	in := dynamicpb.NewMessage(md.Input())
	require.NoError(t, protojson.Unmarshal([]byte(`{"wwn":"`+wwn+`"}`), in))
	out := dynamicpb.NewMessage(md.Output())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return out, f.conn.Invoke(ctx, getDevice, in, out, opts...)
}

func TestHandler_MockedWithDescriptor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.OnPost(getDevice).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
		in, err := mocks.DecodeBody[struct {
			WWN string `json:"wwn"`
		}](req)
		if err != nil {
			return mocks.Reply{}, err
		}
		return mocks.Reply{
			Status: http.StatusOK,
			Body:   map[string]any{"wwn": in.WWN, "deviceName": "sda", "muted": true, "ignored": 1},
			Header: http.Header{"X-Env": []string{"test"}},
		}, nil
	}))

	var header metadata.MD
	out, err := f.getDevice(t, "0x5000c500673e6b5f", grpc.Header(&header))
	require.NoError(t, err)

	b, err := protojson.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wwn":"0x5000c500673e6b5f","deviceName":"sda","muted":true}`, string(b))
	assert.Equal(t, []string{"test"}, header.Get("x-env"))
	assert.Equal(t, []string{getDevice}, header.Get("x-mock-pattern"))
}

func TestHandler_StatusMapping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.OnPost(getDevice).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
		return mocks.Reply{
			Status: http.StatusNotFound,
			Body:   map[string]any{"success": false, "errors": []string{"device not found"}},
		}, nil
	}))

	_, err := f.getDevice(t, "0xdead")
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, "device not found", st.Message())
}

func TestHandler_ReplyFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.OnPost(getDevice).Reply(func(context.Context, *mocks.Request) (mocks.Reply, error) {
		return mocks.Reply{}, errors.New("boom")
	}))

	_, err := f.getDevice(t, "0x1")
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "boom")
}

func TestHandler_NoMock(t *testing.T) {
	f := newFixture(t)

	_, err := f.getDevice(t, "0x1")
	st := status.Convert(err)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, proxy.ErrNoUpstream.Error(), st.Message())
}

func TestHandler_RawFrames(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.OnPost("/echo.Echo/Ping").Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
		var in wrapperspb.StringValue
		if err := proto.Unmarshal(req.Body, &in); err != nil {
			return mocks.Reply{}, err
		}
		b, err := proto.Marshal(wrapperspb.String("pong:" + in.GetValue()))
		return mocks.Reply{Body: b}, err
	}))

	out := &wrapperspb.StringValue{}
	err := f.conn.Invoke(context.Background(), "/echo.Echo/Ping", wrapperspb.String("ping"), out)
	require.NoError(t, err)
	assert.Equal(t, "pong:ping", out.GetValue())
}

func TestCodeFromHTTP(t *testing.T) {
	tests := map[int]codes.Code{
		200: codes.OK,
		204: codes.OK,
		400: codes.InvalidArgument,
		401: codes.Unauthenticated,
		403: codes.PermissionDenied,
		404: codes.NotFound,
		409: codes.AlreadyExists,
		429: codes.ResourceExhausted,
		500: codes.Internal,
		501: codes.Unimplemented,
		502: codes.Internal,
		503: codes.Unavailable,
	}
	for in, want := range tests {
		assert.Equal(t, want, grpcServer.CodeFromHTTP(in), "status %d", in)
	}
}
