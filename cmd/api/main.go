package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"

	"faceattend/internal/app"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/handler"
	"faceattend/internal/logging"
)

func main() {
	cfg := config.Load()

	logs, err := logging.Setup(cfg.LogDir, "api", cfg.LogMaxAge)
	if err != nil {
		log.Fatalf("logging setup failed: %v", err)
	}
	defer logs.Close()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ResetStaging(); err != nil {
		log.Printf("warning: clearing staging dir: %v", err)
	}
	if err := a.Face.Health(ctx); err != nil {
		log.Printf("WARNING: Face service not available: %v", err)
	}

	// A memory queue only reaches consumers in this process.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := a.Worker().Run(ctx); err != nil {
				log.Printf("in-process worker stopped: %v", err)
			}
		}()
	}

	h := handler.New(handler.Deps{
		Service:     a.Service,
		Reporter:    a.Reporter,
		Attempts:    a.Attempts,
		Queue:       a.Queue,
		Staging:     a.Stager,
		Issuer:      auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		KioskSecret: cfg.KioskSecret,
		AdminSecret: cfg.AdminSecret,
		Checks:      a.Checks(),
	})
	if cfg.KioskSecret == "" || cfg.AdminSecret == "" {
		log.Println("WARNING: KIOSK_SECRET or ADMIN_SECRET not set, token exchange for that role is disabled")
	}

	r := handler.Router(h, handler.RouterOptions{
		RateLimitPerMin: cfg.RateLimitPerMin,
		LogOutput:       logging.Writer(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}
