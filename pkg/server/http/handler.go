package http

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/marcaudefroy/hot-api-mock/pkg/config"
)

type uploadProtoRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// handleUploadProto compiles a .proto file into the schema registry. Its
// messages can then be named by mocks and its services called over gRPC.
func (s *Server) handleUploadProto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req uploadProtoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Filename == "" || req.Content == "" {
		writeError(w, s.logger, http.StatusBadRequest, "filename and content required")
		return
	}
	if err := s.descriptorRegistry.RegisterProtoFile(req.Filename, req.Content); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("proto uploaded", zap.String("filename", req.Filename))
	writeJSON(w, s.logger, http.StatusCreated, map[string]string{"message": "proto " + req.Filename + " uploaded, descriptors registered"})
}

type Route struct {
	Seq     int    `json:"seq"`
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	DelayMs int64  `json:"delayMs"`
	Schema  string `json:"schema,omitempty"`
}

func (s *Server) handleMocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListMocks(w, r)
	case http.MethodPost:
		s.handleAddMock(w, r)
	default:
		writeError(w, s.logger, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListMocks lists registrations in registration order; the last
// matching entry wins at dispatch time.
func (s *Server) handleListMocks(w http.ResponseWriter, _ *http.Request) {
	regs := s.mockRegistry.Registrations()
	routes := make([]Route, 0, len(regs))
	for _, reg := range regs {
		routes = append(routes, Route{
			Seq:     reg.Seq,
			Method:  string(reg.Method),
			Pattern: reg.Pattern,
			DelayMs: reg.Delay.Milliseconds(),
			Schema:  reg.Schema,
		})
	}
	writeJSON(w, s.logger, http.StatusOK, routes)
}

// handleAddMock registers a static mock at runtime. It shadows any earlier
// registration on the same method and path. A schema must name a message
// already compiled from an uploaded proto file.
func (s *Server) handleAddMock(w http.ResponseWriter, r *http.Request) {
	var mc config.Mock
	if err := json.NewDecoder(r.Body).Decode(&mc); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := mc.Validate(); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	if mc.Schema != "" {
		if _, ok := s.descriptorRegistry.GetMessageDescriptor(mc.Schema); !ok {
			writeError(w, s.logger, http.StatusBadRequest, "unknown schema message "+mc.Schema+", upload its proto file first")
			return
		}
	}
	if err := mc.Register(s.mockRegistry); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("mock registered", zap.String("method", mc.Method), zap.String("pattern", mc.Path))
	writeJSON(w, s.logger, http.StatusCreated, map[string]string{"message": "mock registered"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, s.historyRegistry.GetHistories())
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.historyRegistry.Clear()
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"message": "history cleared"})
}

// MockHandler serves incoming requests through rt, typically the mock
// dispatcher, so a browser can use the mocked API over the network.
// Transport failures, failing reply functions included, answer 502.
func MockHandler(rt http.RoundTripper, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := r.Clone(r.Context())
		out.RequestURI = ""
		if out.URL.Scheme == "" {
			out.URL.Scheme = "http"
		}
		if out.URL.Host == "" {
			out.URL.Host = r.Host
		}

		resp, err := rt.RoundTrip(out)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			logger.Warn("round trip failed", zap.String("method", r.Method), zap.String("url", r.URL.String()), zap.Error(err))
			writeError(w, logger, http.StatusBadGateway, err.Error())
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Warn("write response failed", zap.Error(err))
		}
	})
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("write response failed", zap.Error(err))
	}
}
