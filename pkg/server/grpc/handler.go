package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/marcaudefroy/hot-api-mock/pkg/dispatch"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
)

// Host used in the URL of requests built from gRPC calls.
const Host = "grpc.mock"

// Handler returns a grpc.StreamHandler that turns a unary call on
// /pkg.Service/Method into a POST of the same path through rt.
//
// With a known method descriptor the request message is sent as JSON and
// the reply body is decoded into the output message. Without one, frames
// are forwarded and returned as raw bytes.
func Handler(rt http.RoundTripper, schemas schema.DescriptorRegistry, logger *zap.Logger) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		fullMethod, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "method not found in stream context")
		}
		md, hasDesc := schemas.GetMethodDescriptor(fullMethod)

		body, contentType, err := receive(stream, md, hasDesc)
		if err != nil {
			return err
		}

		ctx := stream.Context()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+Host+fullMethod, bytes.NewReader(body))
		if err != nil {
			return status.Errorf(codes.Internal, "build request: %v", err)
		}
		req.Header.Set("Content-Type", contentType)
		if in, ok := metadata.FromIncomingContext(ctx); ok {
			for k, vs := range in {
				if strings.HasPrefix(k, ":") || k == "content-type" {
					continue
				}
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
		}

		resp, err := rt.RoundTrip(req)
		if err != nil {
			return transportStatus(ctx, err)
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return status.Errorf(codes.Internal, "read reply: %v", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return status.Error(CodeFromHTTP(resp.StatusCode), errorMessage(resp.StatusCode, payload))
		}

		if err := stream.SendHeader(headerMetadata(resp.Header)); err != nil {
			return err
		}
		if !hasDesc {
			return stream.SendMsg(payload)
		}
		out := dynamicpb.NewMessage(md.Output())
		if len(payload) > 0 {
			if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(payload, out); err != nil {
				logger.Warn("reply does not fit output message",
					zap.String("method", fullMethod),
					zap.String("output", string(md.Output().FullName())),
					zap.Error(err))
				return status.Errorf(codes.Internal, "json→message: %v", err)
			}
		}
		return stream.SendMsg(out)
	}
}

func receive(stream grpc.ServerStream, md protoreflect.MethodDescriptor, hasDesc bool) ([]byte, string, error) {
	if !hasDesc {
		var frame []byte
		if err := stream.RecvMsg(&frame); err != nil && !errors.Is(err, io.EOF) {
			return nil, "", err
		}
		return frame, "application/grpc", nil
	}
	in := dynamicpb.NewMessage(md.Input())
	if err := stream.RecvMsg(in); err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return nil, "", status.Errorf(codes.Internal, "message→json: %v", err)
	}
	return b, "application/json", nil
}

func transportStatus(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status.FromContextError(ctxErr).Err()
	}
	var replyErr *dispatch.ReplyError
	if errors.As(err, &replyErr) {
		return status.Error(codes.Internal, replyErr.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

// CodeFromHTTP maps an HTTP status to the closest gRPC code.
func CodeFromHTTP(s int) codes.Code {
	switch s {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	}
	if s >= 200 && s <= 299 {
		return codes.OK
	}
	return codes.Internal
}

// errorMessage extracts a message from the bodies the providers and the
// not-found transport produce: {"error": "..."} or {"errors": ["..."]}.
func errorMessage(code int, payload []byte) string {
	var body struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if len(body.Errors) > 0 {
			return strings.Join(body.Errors, "; ")
		}
	}
	if len(payload) > 0 {
		return string(payload)
	}
	return http.StatusText(code)
}

func headerMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		switch strings.ToLower(k) {
		case "content-type", "content-length":
			continue
		}
		md.Append(k, vs...)
	}
	return md
}
