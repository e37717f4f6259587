package app

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
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stacklok/localghost/pkg/api"
	"github.com/stacklok/localghost/pkg/kernel"
	"github.com/stacklok/localghost/pkg/logger"
)

const (
	defaultGracefulTimeout = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the LocalGhost authorization kernel",
		RunE:  runServe,
	}

	cmd.Flags().String("host", "", "Host to bind on (overrides config)")
	cmd.Flags().Int("port", 0, "Port to bind on (overrides config; an explicit 0 binds an OS-chosen free port)")
	if err := viper.BindPFlag("host", cmd.Flags().Lookup("host")); err != nil {
		logger.Errorf("error binding host flag: %v", err)
	}
	if err := viper.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
		logger.Errorf("error binding port flag: %v", err)
	}

	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	k, err := kernel.New(settings)
	if err != nil {
		return fmt.Errorf("failed to construct kernel: %w", err)
	}
	defer k.Close() //nolint:errcheck

	accessLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to construct access logger: %w", err)
	}
	defer accessLog.Sync() //nolint:errcheck

	router := api.NewRouter(k, accessLog.Sugar())

	addr := net.JoinHostPort(settings.Host, fmt.Sprintf("%d", settings.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	if err := writePortFile(settings.PortFilePath(), listener.Addr().(*net.TCPAddr).Port); err != nil {
		logger.Warnf("failed to write port file: %v", err)
	}
	defer os.Remove(settings.PortFilePath()) //nolint:errcheck

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("LocalGhost listening on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func writePortFile(path string, port int) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", port)), 0o600)
}
