// Package app assembles the mock registry, the built-in providers, the
// dispatcher and the servers exposing them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/marcaudefroy/hot-api-mock/pkg/config"
	"github.com/marcaudefroy/hot-api-mock/pkg/dispatch"
	"github.com/marcaudefroy/hot-api-mock/pkg/history"
	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
	"github.com/marcaudefroy/hot-api-mock/pkg/providers"
	"github.com/marcaudefroy/hot-api-mock/pkg/proxy"
	"github.com/marcaudefroy/hot-api-mock/pkg/schema"
	grpcServer "github.com/marcaudefroy/hot-api-mock/pkg/server/grpc"
	httpServer "github.com/marcaudefroy/hot-api-mock/pkg/server/http"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *mocks.DefaultRegistry
	dataset   *providers.Dataset
	schemas   schema.DescriptorRegistry
	history   *history.DefaultRegistry
	transport *dispatch.Transport

	mockHandler  http.Handler
	adminHandler http.Handler
	grpcServer   *grpc.Server
}

// New wires everything from cfg. Configured mocks are registered after the
// providers so they take precedence on the same method and path.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: mocks.NewRegistry(),
		dataset:  providers.NewDataset(),
		schemas:  schema.NewDescriptorRegistry(logger.Named("schema")),
		history:  &history.DefaultRegistry{},
	}

	if err := providers.RegisterAll(a.registry, a.dataset, cfg.Latency); err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	for i, m := range cfg.Mocks {
		if err := m.Register(a.registry); err != nil {
			return nil, fmt.Errorf("register mocks[%d]: %w", i, err)
		}
	}
	if err := a.registry.Err(); err != nil {
		return nil, err
	}

	if err := a.loadProtoFiles(); err != nil {
		return nil, err
	}
	if err := a.checkSchemas(); err != nil {
		return nil, err
	}

	next := proxy.NotFound()
	if cfg.Upstream != "" {
		p, err := proxy.New(cfg.Upstream, logger.Named("proxy"))
		if err != nil {
			return nil, err
		}
		next = p
	}
	a.transport = dispatch.New(a.registry,
		dispatch.WithNext(next),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithHistory(a.history),
		dispatch.WithValidator(a.schemas),
	)

	a.mockHandler = httpServer.MockHandler(a.transport, logger.Named("http"))
	a.adminHandler = httpServer.NewServer(a.registry, a.history, a.schemas, logger.Named("admin"))
	a.grpcServer = grpcServer.NewServer(a.transport, a.schemas, logger.Named("grpc"))
	return a, nil
}

// Proto files are named by their base name, which is what imports between
// them must use.
func (a *App) loadProtoFiles() error {
	if len(a.cfg.ProtoFiles) == 0 {
		return nil
	}
	for _, path := range a.cfg.ProtoFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read proto file: %w", err)
		}
		a.schemas.IngestProtoFile(filepath.Base(path), string(b))
	}
	if err := a.schemas.CompileAndRegister(); err != nil {
		return fmt.Errorf("proto files: %w", err)
	}
	a.logger.Info("proto files loaded", zap.Strings("files", a.cfg.ProtoFiles))
	return nil
}

// checkSchemas fails on any registration naming a message that no loaded
// proto file defines.
func (a *App) checkSchemas() error {
	var errs []error
	for _, reg := range a.registry.Registrations() {
		if reg.Schema == "" {
			continue
		}
		if _, ok := a.schemas.GetMessageDescriptor(reg.Schema); !ok {
			errs = append(errs, fmt.Errorf("mock %s %s: %w %q", reg.Method, reg.Pattern, schema.ErrUnknownMessage, reg.Schema))
		}
	}
	return errors.Join(errs...)
}

// Client returns an http.Client answering from the mocks in process.
func (a *App) Client() *http.Client { return a.transport.Client() }

func (a *App) Registry() mocks.Registry { return a.registry }

func (a *App) History() history.RegistryReader { return a.history }

// Dataset is the state behind the built-in endpoints.
func (a *App) Dataset() *providers.Dataset { return a.dataset }

// Listeners holds one listener per front. A nil listener disables it.
type Listeners struct {
	HTTP  net.Listener
	Admin net.Listener
	GRPC  net.Listener
}

// Run listens on the configured addresses and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	var ls Listeners
	var err error
	listen := func(addr string) net.Listener {
		if addr == "" || err != nil {
			return nil
		}
		var l net.Listener
		l, err = net.Listen("tcp", addr)
		return l
	}
	ls.HTTP = listen(a.cfg.HTTPAddr)
	ls.Admin = listen(a.cfg.AdminAddr)
	ls.GRPC = listen(a.cfg.GRPCAddr)
	if err != nil {
		for _, l := range []net.Listener{ls.HTTP, ls.Admin, ls.GRPC} {
			if l != nil {
				_ = l.Close()
			}
		}
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ls)
}

// Serve serves on ls until ctx is done or a server fails, then shuts every
// server down gracefully.
func (a *App) Serve(ctx context.Context, ls Listeners) error {
	g, ctx := errgroup.WithContext(ctx)

	if ls.HTTP != nil {
		a.serveHTTP(ctx, g, "http", ls.HTTP, a.mockHandler)
	}
	if ls.Admin != nil {
		a.serveHTTP(ctx, g, "admin", ls.Admin, a.adminHandler)
	}
	if ls.GRPC != nil {
		g.Go(func() error {
			a.logger.Info("gRPC listening", zap.String("addr", ls.GRPC.Addr().String()))
			if err := a.grpcServer.Serve(ls.GRPC); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			a.grpcServer.GracefulStop()
			return nil
		})
	}
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, name string, l net.Listener, h http.Handler) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		a.logger.Info("listening", zap.String("server", name), zap.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("graceful shutdown failed", zap.String("server", name), zap.Error(err))
			return err
		}
		a.logger.Info("stopped", zap.String("server", name))
		return nil
	})
}
