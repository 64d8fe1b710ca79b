package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcaudefroy/hot-api-mock/pkg/app"
	"github.com/marcaudefroy/hot-api-mock/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// serve flags
	httpAddr  string
	adminAddr string
	grpcAddr  string
	upstream  string
	latency   time.Duration

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hot-api-mock",
	Short: "Mock server for the disk-health dashboard API",
	Long: `hot-api-mock answers the dashboard API (device summary, details, settings,
ZFS pools) from an in-memory dataset, with simulated latency.

Static mocks from the config file override the built-in endpoints. Requests
matching no mock are forwarded to the upstream, if any.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
		}
		applyFlags(cmd)

		var err error
		logger, err = cfg.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mocked API, the admin API and the gRPC front",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the registered mocks in registration order",
	Long: `Lists every registration. When several match a request, the one
listed last answers.`,
	Args: cobra.NoArgs,
	RunE: runRoutes,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd.Flags().StringVar(&httpAddr, "http", "", "Mocked API listen address (overrides config)")
	serveCmd.Flags().StringVar(&adminAddr, "admin", "", "Admin API listen address (overrides config)")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().StringVar(&upstream, "upstream", "", "Upstream URL for unmatched requests (overrides config)")
	serveCmd.Flags().DurationVar(&latency, "latency", 0, "Latency of the built-in endpoints (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(routesCmd)
}

// applyFlags overrides the config with the flags set on the command line.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("http") {
		cfg.HTTPAddr = httpAddr
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = adminAddr
	}
	if flags.Changed("grpc") {
		cfg.GRPCAddr = grpcAddr
	}
	if flags.Changed("upstream") {
		cfg.Upstream = upstream
	}
	if flags.Changed("latency") {
		cfg.Latency = latency
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting",
		zap.String("http", cfg.HTTPAddr),
		zap.String("admin", cfg.AdminAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("upstream", cfg.Upstream),
		zap.Duration("latency", cfg.Latency))
	return a.Run(ctx)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tMETHOD\tPATTERN\tDELAY\tSCHEMA")
	for _, r := range a.Registry().Registrations() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Method, r.Pattern, r.Delay, r.Schema)
	}
	return w.Flush()
}
