package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/marcaudefroy/hot-api-mock/pkg/history"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
)

// Server hosts the admin endpoints: registration table, runtime mocks,
// proto uploads and history.
type Server struct {
	mockRegistry       mocks.Registry
	historyRegistry    history.RegistryReader
	descriptorRegistry schema.DescriptorRegistry
	logger             *zap.Logger
}

// NewServer returns an http.ServeMux with all admin routes registered.
func NewServer(mr mocks.Registry, hr history.RegistryReader, dr schema.DescriptorRegistry, logger *zap.Logger) *http.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		mockRegistry:       mr,
		historyRegistry:    hr,
		descriptorRegistry: dr,
		logger:             logger,
	}
	mux.HandleFunc("/upload_proto", s.handleUploadProto)
	mux.HandleFunc("/mocks", s.handleMocks)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/clear", s.clearHistory)
	return mux
}
