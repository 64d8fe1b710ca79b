package schema

import (
	"io"

	"google.golang.org/grpc/codes"
	reflectionv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
)

type FileDescriptorsGetter interface {
	GetFileDescriptors() []protoreflect.FileDescriptor
}

// ReflectionServer answers gRPC reflection v1 requests from the compiled
// schemas, so tools like grpcurl can discover mocked services.
type ReflectionServer struct {
	reflectionv1.UnimplementedServerReflectionServer
	fdg FileDescriptorsGetter
}

func NewReflectionServer(fdg FileDescriptorsGetter) *ReflectionServer {
	return &ReflectionServer{fdg: fdg}
}

func (s *ReflectionServer) ServerReflectionInfo(stream reflectionv1.ServerReflection_ServerReflectionInfoServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		var resp *reflectionv1.ServerReflectionResponse
		switch r := req.GetMessageRequest().(type) {
		case *reflectionv1.ServerReflectionRequest_ListServices:
			resp = s.listServices(req)
		case *reflectionv1.ServerReflectionRequest_FileByFilename:
			resp = s.fileResponse(req, func(fd protoreflect.FileDescriptor) bool {
				return fd.Path() == r.FileByFilename
			})
		case *reflectionv1.ServerReflectionRequest_FileContainingSymbol:
			resp = s.fileResponse(req, func(fd protoreflect.FileDescriptor) bool {
				return containsSymbol(fd, protoreflect.FullName(r.FileContainingSymbol))
			})
		default:
			resp = errorResponse(req, codes.Unimplemented, "request type not supported")
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

func (s *ReflectionServer) listServices(req *reflectionv1.ServerReflectionRequest) *reflectionv1.ServerReflectionResponse {
	seen := map[string]struct{}{}
	svcResp := &reflectionv1.ListServiceResponse{}
	for _, fd := range s.fdg.GetFileDescriptors() {
		for i := 0; i < fd.Services().Len(); i++ {
			name := string(fd.Services().Get(i).FullName())
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				svcResp.Service = append(svcResp.Service, &reflectionv1.ServiceResponse{Name: name})
			}
		}
	}
	return &reflectionv1.ServerReflectionResponse{
		ValidHost:       req.GetHost(),
		OriginalRequest: req,
		MessageResponse: &reflectionv1.ServerReflectionResponse_ListServicesResponse{ListServicesResponse: svcResp},
	}
}

// fileResponse returns the first matching file followed by its transitive imports.
func (s *ReflectionServer) fileResponse(req *reflectionv1.ServerReflectionRequest, match func(protoreflect.FileDescriptor) bool) *reflectionv1.ServerReflectionResponse {
	for _, fd := range s.fdg.GetFileDescriptors() {
		if !match(fd) {
			continue
		}
		var out [][]byte
		seen := map[string]bool{}
		var walk func(protoreflect.FileDescriptor)
		walk = func(f protoreflect.FileDescriptor) {
			if seen[f.Path()] {
				return
			}
			seen[f.Path()] = true
			b, err := proto.Marshal(protodesc.ToFileDescriptorProto(f))
			if err == nil {
				out = append(out, b)
			}
			for i := 0; i < f.Imports().Len(); i++ {
				walk(f.Imports().Get(i).FileDescriptor)
			}
		}
		walk(fd)
		return &reflectionv1.ServerReflectionResponse{
			ValidHost:       req.GetHost(),
			OriginalRequest: req,
			MessageResponse: &reflectionv1.ServerReflectionResponse_FileDescriptorResponse{
				FileDescriptorResponse: &reflectionv1.FileDescriptorResponse{FileDescriptorProto: out},
			},
		}
	}
	return errorResponse(req, codes.NotFound, "not found")
}

func containsSymbol(fd protoreflect.FileDescriptor, symbol protoreflect.FullName) bool {
	for i := range fd.Services().Len() {
		svc := fd.Services().Get(i)
		if svc.FullName() == symbol {
			return true
		}
		for j := range svc.Methods().Len() {
			if svc.Methods().Get(j).FullName() == symbol {
				return true
			}
		}
	}
	for i := range fd.Messages().Len() {
		if fd.Messages().Get(i).FullName() == symbol {
			return true
		}
	}
	return false
}

func errorResponse(req *reflectionv1.ServerReflectionRequest, code codes.Code, msg string) *reflectionv1.ServerReflectionResponse {
	return &reflectionv1.ServerReflectionResponse{
		ValidHost:       req.GetHost(),
		OriginalRequest: req,
		MessageResponse: &reflectionv1.ServerReflectionResponse_ErrorResponse{
			ErrorResponse: &reflectionv1.ErrorResponse{ErrorCode: int32(code), ErrorMessage: msg},
		},
	}
}
