package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/archive"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/simd"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
)

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the adaptation service over HTTP and gRPC",
		Long: `Serve adaptation runs over an HTTP JSON API and the
burstadapt.v1.BurstService gRPC service until interrupted.

With --db, finished runs are archived in a SQLite database and exposed under
/v1/archive/runs.

Example:
  burstadapt serve --http-addr :8080 --grpc-addr :50051 --db runs.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, rootOpts)
		},
	}

	cmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	cmd.Flags().String("grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().String("db", "", "SQLite archive of finished runs; disabled when empty")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight work on shutdown")

	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := simd.NewRunStore()
	executor := simd.NewRunExecutor(store).WithNotifier(simd.NewNotifier())
	httpAPI := simd.NewHTTPServer(store, executor)

	var db *archive.Store
	if path := opts.v.GetString("db"); path != "" {
		var err error
		if db, err = archive.Open(path); err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("error closing archive", "error", err)
			}
		}()
		executor.WithArchive(db)
		httpAPI.WithArchive(db)
		logger.Info("archive ready", "path", path)
	}

	grpcAddr := opts.v.GetString("grpc-addr")
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", grpcAddr, err)
	}
	httpAddr := opts.v.GetString("http-addr")
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("listen for HTTP on %s: %w", httpAddr, err)
	}

	// TODO: configure TLS and authentication before exposing the service
	// outside a trusted network.
	grpcServer := grpc.NewServer()
	simd.RegisterBurstServiceServer(grpcServer, simd.NewBurstGRPCServer(store, executor))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(simd.BurstServiceName, healthpb.HealthCheckResponse_SERVING)

	httpSrv := &http.Server{
		Handler:           httpAPI.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			serveErr <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
		logger.Error("server failed", "error", runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.v.GetDuration("shutdown-timeout"))
	defer cancel()

	healthServer.Shutdown()
	// terminal runs end every open watch stream, so GracefulStop can return
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}
