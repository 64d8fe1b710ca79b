package schema

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

var ErrUnknownMessage = errors.New("unknown message")

// Validator checks an encoded JSON body against a named message.
type Validator interface {
	Validate(fullName string, body []byte) error
}

// This registry turns raw .proto definitions into linked descriptors used to
// validate mock bodies and to drive the gRPC front.
//
// Single file:
//   - RegisterProtoFile(name, src): ingest, compile and register.
//
// Several files:
//   - IngestProtoFile(name, src) for each file, then
//   - CompileAndRegister() once.
type DescriptorRegistry interface {
	Validator

	GetMessageDescriptor(fullName string) (protoreflect.MessageDescriptor, bool)
	// GetMethodDescriptor takes a gRPC full method, "/pkg.Service/Method".
	GetMethodDescriptor(fullMethod string) (protoreflect.MethodDescriptor, bool)
	GetFileDescriptors() []protoreflect.FileDescriptor

	RegisterProtoFile(filename, content string) error
	IngestProtoFile(filename, content string)
	CompileAndRegister() error
	Compile() (linker.Files, error)
	RegisterFiles(fds linker.Files)
}

type defaultDescriptorRegistry struct {
	logger *zap.Logger

	// serializes compile-and-register cycles
	registerMu sync.Mutex

	// raw .proto sources keyed by filename
	protoFiles     map[string]string
	protoFileNames []string
	protoFilesMu   sync.RWMutex

	allFileDescriptors []protoreflect.FileDescriptor
	allFileDescMu      sync.RWMutex

	messageDescriptorRegistry   map[string]protoreflect.MessageDescriptor
	messageDescriptorRegistryMu sync.RWMutex

	methodDescriptorRegistry   map[string]protoreflect.MethodDescriptor
	methodDescriptorRegistryMu sync.RWMutex
}

// NewDescriptorRegistry creates a registry preloaded with the well-known
// protobuf files linked into the binary.
func NewDescriptorRegistry(logger *zap.Logger) DescriptorRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &defaultDescriptorRegistry{
		logger:                    logger,
		protoFiles:                map[string]string{},
		messageDescriptorRegistry: map[string]protoreflect.MessageDescriptor{},
		methodDescriptorRegistry:  map[string]protoreflect.MethodDescriptor{},
	}
	protoregistry.GlobalFiles.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		d.allFileDescriptors = append(d.allFileDescriptors, fd)
		return true
	})
	return d
}

func (s *defaultDescriptorRegistry) IngestProtoFile(filename, content string) {
	s.protoFilesMu.Lock()
	defer s.protoFilesMu.Unlock()
	s.protoFiles[filename] = content
	if !slices.Contains(s.protoFileNames, filename) {
		s.protoFileNames = append(s.protoFileNames, filename)
	}
}

// RegisterProtoFile compiles filename together with the files already
// known. On a compile error nothing is kept, so a bad upload does not
// poison later ones.
func (s *defaultDescriptorRegistry) RegisterProtoFile(filename, content string) error {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	sources, names := s.snapshot()
	sources[filename] = content
	if !slices.Contains(names, filename) {
		names = append(names, filename)
	}
	fds, err := compile(sources, names)
	if err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	s.IngestProtoFile(filename, content)
	s.RegisterFiles(fds)
	return nil
}

func (s *defaultDescriptorRegistry) CompileAndRegister() error {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	fds, err := s.Compile()
	if err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	s.RegisterFiles(fds)
	return nil
}

func (s *defaultDescriptorRegistry) Compile() (linker.Files, error) {
	return compile(s.snapshot())
}

func (s *defaultDescriptorRegistry) snapshot() (map[string]string, []string) {
	s.protoFilesMu.RLock()
	defer s.protoFilesMu.RUnlock()
	sources := make(map[string]string, len(s.protoFiles))
	for k, v := range s.protoFiles {
		sources[k] = v
	}
	return sources, slices.Clone(s.protoFileNames)
}

func compile(sources map[string]string, names []string) (linker.Files, error) {
	base := &protocompile.SourceResolver{
		ImportPaths: []string{"."},
		Accessor:    protocompile.SourceAccessorFromMap(sources),
	}
	compiler := protocompile.Compiler{Resolver: protocompile.WithStandardImports(base)}
	return compiler.Compile(context.Background(), names...)
}

// RegisterFiles indexes messages (nested ones included) and service methods.
// A file replaces everything previously registered under the same path, so
// definitions removed from a re-uploaded file disappear.
func (s *defaultDescriptorRegistry) RegisterFiles(fds linker.Files) {
	s.allFileDescMu.Lock()
	defer s.allFileDescMu.Unlock()
	for _, fd := range fds {
		path := fd.Path()
		s.allFileDescriptors = slices.DeleteFunc(s.allFileDescriptors, func(known protoreflect.FileDescriptor) bool {
			return known.Path() == path
		})
		s.allFileDescriptors = append(s.allFileDescriptors, fd)

		s.messageDescriptorRegistryMu.Lock()
		maps.DeleteFunc(s.messageDescriptorRegistry, func(_ string, md protoreflect.MessageDescriptor) bool {
			return md.ParentFile().Path() == path
		})
		s.registerMessages(fd.Messages())
		s.messageDescriptorRegistryMu.Unlock()

		s.methodDescriptorRegistryMu.Lock()
		maps.DeleteFunc(s.methodDescriptorRegistry, func(_ string, md protoreflect.MethodDescriptor) bool {
			return md.ParentFile().Path() == path
		})
		for i := 0; i < fd.Services().Len(); i++ {
			svc := fd.Services().Get(i)
			for j := 0; j < svc.Methods().Len(); j++ {
				method := svc.Methods().Get(j)
				fullMethodName := fmt.Sprintf("/%s/%s", svc.FullName(), method.Name())
				s.methodDescriptorRegistry[fullMethodName] = method
				s.logger.Debug("method descriptor registered", zap.String("method", fullMethodName))
			}
		}
		s.methodDescriptorRegistryMu.Unlock()
	}
}

func (s *defaultDescriptorRegistry) registerMessages(msgs protoreflect.MessageDescriptors) {
	for i := range msgs.Len() {
		md := msgs.Get(i)
		name := string(md.FullName())
		s.messageDescriptorRegistry[name] = md
		s.logger.Debug("message descriptor registered", zap.String("message", name))
		s.registerMessages(md.Messages())
	}
}

func (s *defaultDescriptorRegistry) GetFileDescriptors() []protoreflect.FileDescriptor {
	s.allFileDescMu.RLock()
	defer s.allFileDescMu.RUnlock()
	return slices.Clone(s.allFileDescriptors)
}

func (s *defaultDescriptorRegistry) GetMessageDescriptor(fullName string) (protoreflect.MessageDescriptor, bool) {
	s.messageDescriptorRegistryMu.RLock()
	defer s.messageDescriptorRegistryMu.RUnlock()
	md, ok := s.messageDescriptorRegistry[fullName]
	return md, ok
}

func (s *defaultDescriptorRegistry) GetMethodDescriptor(fullMethod string) (protoreflect.MethodDescriptor, bool) {
	s.methodDescriptorRegistryMu.RLock()
	defer s.methodDescriptorRegistryMu.RUnlock()
	md, ok := s.methodDescriptorRegistry[fullMethod]
	return md, ok
}

// Validate decodes body into a dynamic message of type fullName. Unknown
// fields and type mismatches are errors. An empty body is a valid empty message.
func (s *defaultDescriptorRegistry) Validate(fullName string, body []byte) error {
	desc, ok := s.GetMessageDescriptor(fullName)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownMessage, fullName)
	}
	if len(body) == 0 {
		return nil
	}
	dyn := dynamicpb.NewMessage(desc)
	if err := protojson.Unmarshal(body, dyn); err != nil {
		return fmt.Errorf("body does not match %s: %w", fullName, err)
	}
	return nil
}
