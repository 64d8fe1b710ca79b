package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
)

type Config struct {
	// HTTPAddr serves the mocked API. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`
	// AdminAddr serves the admin API (/mocks, /history). Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
	// GRPCAddr serves the gRPC front. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr"`
	// Upstream receives requests no mock matches. Empty answers 404.
	Upstream string `yaml:"upstream"`
	// Latency is applied to every built-in provider endpoint.
	Latency time.Duration `yaml:"latency"`

	ProtoFiles []string `yaml:"proto_files"`
	Mocks      []Mock   `yaml:"mocks"`
	Log        Log      `yaml:"log"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Mock is a static fixture registered after the built-in providers, so it
// overrides any of them on the same method and path.
type Mock struct {
	Method  string            `yaml:"method" json:"method"`
	Path    string            `yaml:"path" json:"path"`
	Status  int               `yaml:"status" json:"status"`
	Body    any               `yaml:"body" json:"body"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	DelayMs int               `yaml:"delay_ms" json:"delayMs"`
	Schema  string            `yaml:"schema" json:"schema"`
}

func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		AdminAddr: ":8081",
		Log:       Log{Level: "info"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" && c.AdminAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("no listener configured"))
	}
	if c.Upstream != "" {
		u, err := url.Parse(c.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("upstream %q: want an absolute http(s) url", c.Upstream))
		}
	}
	if c.Latency < 0 {
		errs = append(errs, errors.New("latency must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	for i, m := range c.Mocks {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mocks[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m Mock) Validate() error {
	if _, err := mocks.ParseMethod(m.Method); err != nil {
		return err
	}
	if m.Path == "" {
		return mocks.ErrEmptyPattern
	}
	if m.Status != 0 && (m.Status < 100 || m.Status > 599) {
		return fmt.Errorf("status %d out of range", m.Status)
	}
	if m.DelayMs < 0 {
		return errors.New("delay_ms must not be negative")
	}
	return nil
}

// Register adds the fixture to reg.
func (m Mock) Register(reg mocks.Registry) error {
	method, err := mocks.ParseMethod(m.Method)
	if err != nil {
		return err
	}
	status := m.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for k, v := range m.Headers {
		header.Set(k, v)
	}
	body := normalize(m.Body)
	return reg.Register(method, m.Path).
		Delay(time.Duration(m.DelayMs) * time.Millisecond).
		Schema(m.Schema).
		Reply(func(_ context.Context, _ *mocks.Request) (mocks.Reply, error) {
			return mocks.Reply{Status: status, Body: body, Header: header}, nil
		})
}

// normalize converts the map[string]any / []any trees produced by YAML into
// values encoding/json accepts as is.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger(verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
