package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the RH360 attendance HTTP API.
Kiosks submit facial, QR and manual attendance events, synchronize offline
queues and manage employees through /api/v1.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	b.enableGalleryIndex(context.Background())

	client := b.embeddingClient()
	if client == nil {
		fmt.Println("Warning: EMBEDDING_URL is not set, facial verification and enrollment are disabled")
	}
	if cfg.Web.AdminSecret == "" {
		fmt.Println("Warning: WEB_ADMIN_SECRET is not set, admin endpoints are disabled")
	}

	router := b.attendanceRouter(client)
	deps := web.Deps{
		Router:     router,
		Engine:     b.reconcileEngine(router),
		Enrollment: b.enrollmentService(client),
		Employees:  b.employees,
		Records:    b.records,
		Gallery:    b.gallery,
	}
	if client != nil {
		deps.Embedder = client
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, deps, port, host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveGalleryIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Profile %q: tolerance %.2f, min confidence %.2f, %d enrollment photos\n",
		cfg.Attendance.Profile, cfg.Attendance.BaseTolerance, cfg.Attendance.MinConfidence, cfg.Attendance.MinPhotos)
	fmt.Printf("Starting RH360 attendance API on http://%s:%d/api/v1\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
