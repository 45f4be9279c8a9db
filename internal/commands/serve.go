package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"sitecrew-backend/internal/attendance"
	"sitecrew-backend/internal/directory"
	"sitecrew-backend/internal/facematch"
	"sitecrew-backend/internal/locator"
	"sitecrew-backend/internal/platform/auth"
	"sitecrew-backend/internal/platform/db"
	"sitecrew-backend/internal/presence"
	"sitecrew-backend/internal/summary"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the location websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *db.Config) error {
	log.Printf("[INFO] mode:%s version:%s", cfg.Mode, cfg.Version)
	if cfg.Mode != "dev" && cfg.Mode != "release" {
		return fmt.Errorf("mode must be dev or release, got %q", cfg.Mode)
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	r := buildRouter(cfg, conn)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// TLS設定
	certDir := "config/tls/" + cfg.Mode
	certFile := fmt.Sprintf("%s/%s", certDir, cfg.Certificate.Cert)
	keyFile := fmt.Sprintf("%s/%s", certDir, cfg.Certificate.Key)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] listening on https://%s", cfg.Listen)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildRouter wires every feature package onto one gin engine.
func buildRouter(cfg *db.Config, conn *sql.DB) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" && len(cfg.Locator.AllowedOrigins) > 0 {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Locator.AllowedOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// collaborators
	dir := directory.NewStore(conn)
	face := facematch.NewClient(facematch.Config{
		BaseURL:    cfg.FaceMatch.BaseURL,
		Timeout:    cfg.FaceMatch.Timeout,
		MaxPhotoPx: cfg.FaceMatch.MaxPhotoPx,
	})

	registry := presence.NewRegistry()
	hub := locator.NewHub(cfg.Locator.AllowedOrigins)
	relay := locator.NewRelay(registry, hub, locator.Options{EchoInvalidReports: cfg.Locator.EchoInvalidReports})

	var guard []gin.HandlerFunc
	if cfg.Auth.JWTSecret != "" {
		guard = append(guard, auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))
	} else {
		log.Println("[WARN] auth.jwt_secret is empty, API is unauthenticated")
	}

	// /api/v1
	api := r.Group("/api/v1", guard...)
	attendance.RegisterRoutes(api, attendance.NewService(conn, dir, face, cfg.FaceMatch.MinConfidence))
	summary.RegisterRoutes(api, summary.NewService(conn, dir))
	directory.RegisterRoutes(api, directory.NewService(dir))
	locator.RegisterRoutes(api, hub, relay)

	// websocket
	ws := r.Group("", guard...)
	locator.RegisterWS(ws, hub, relay)

	return r
}
