package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lootforge/internal/service"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve every stage over HTTP",
	Long: `Serve exposes the pipeline as an HTTP service: each stage as a tool
endpoint under /v1/tools/, plus a one-shot pipeline endpoint at
/v1/generation/requests and contract introspection under /v1/contract/.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	host := runtime.Service.Host
	if serveHost != "" {
		host = serveHost
	}
	port := runtime.Service.Port
	if servePort != 0 {
		port = servePort
	}
	out := outDir
	if out == "." && runtime.Service.Out != "" {
		out = runtime.Service.Out
	}

	srv := service.New(service.Config{
		Host:    host,
		Port:    port,
		OutRoot: out,
		Runtime: runtime,
		Logger:  logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("lootforge service on http://%s:%d (out: %s)\n", host, port, out)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return <-errCh
	}
}
