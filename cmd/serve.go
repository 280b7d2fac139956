package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinkerbench/sketch/internal/config"
	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/server"
	"github.com/tinkerbench/sketch/internal/snapshot"
)

var serveCmd = &cobra.Command{
	Use:   "serve [project-dir]",
	Short: "Start the live preview server",
	Long: `Start the preview server over a project directory. The directory is
mirrored into memory, watched for changes, and recompiled on every edit.

Examples:
  sketch serve                    # Serve the current directory
  sketch serve ./widgets          # Serve a specific project
  sketch serve --port 8080        # Bind a different port`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 4321, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Bool("no-open", false, "Don't open the browser automatically")
	serveCmd.Flags().Int("workers", 0, "Transform worker count (0 = number of CPUs)")
	serveCmd.Flags().String("snapshots", "", "Path to the snapshot database (empty disables snapshots)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.no-open", serveCmd.Flags().Lookup("no-open"))
	viper.BindPFlag("pipeline.workers", serveCmd.Flags().Lookup("workers"))
	viper.BindPFlag("snapshot.path", serveCmd.Flags().Lookup("snapshots"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: "text",
		Output: os.Stderr,
	})

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tree, dirWatcher, err := seedTree(ctx, dir, cfg, logger)
	if err != nil {
		return fmt.Errorf("seed project from %s: %w", dir, err)
	}
	defer dirWatcher.Stop()

	pipe, err := newPipeline(tree, cfg, logger)
	if err != nil {
		return err
	}

	var store *snapshot.Store
	if cfg.Snapshot.Path != "" {
		store, err = snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	srv := server.New(tree, pipe, store, server.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	pipe.Start(ctx)
	defer pipe.Stop()

	if err := dirWatcher.Start(ctx); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	url := "http://" + srv.Addr()
	fmt.Fprintf(os.Stderr, "Preview running at %s\n", url)
	if !viper.GetBool("server.no-open") {
		if err := openBrowser(url); err != nil {
			logger.Debug(ctx, "could not open browser", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
