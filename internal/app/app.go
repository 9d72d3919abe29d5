// Package app boots the lifecycle engine: database, components, HTTP
// surface, and the background sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pawplan/pawplan/internal/config"
	"github.com/pawplan/pawplan/internal/db"
	"github.com/pawplan/pawplan/internal/enrollment"
	adminapi "github.com/pawplan/pawplan/internal/http/api/admin"
	"github.com/pawplan/pawplan/internal/http/api/webhook"
	"github.com/pawplan/pawplan/internal/lifecycle"
	"github.com/pawplan/pawplan/internal/notify"
	"github.com/pawplan/pawplan/internal/rail"
	"github.com/pawplan/pawplan/internal/retry"
	"github.com/pawplan/pawplan/internal/riskpool"
	"github.com/pawplan/pawplan/internal/softcollect"
	"github.com/pawplan/pawplan/internal/sweep"

	log "github.com/sirupsen/logrus"
)

// Options carries the collaborator implementations injected at boot.
// Nil fields fall back to logging stand-ins so the engine runs without
// external providers configured.
type Options struct {
	Rail   rail.Rail
	Sender notify.Sender
}

// noopRail logs charges and transfers instead of executing them. Used when
// no payment processor is configured; webhooks never arrive for it.
type noopRail struct{}

func (noopRail) ChargeDeposit(_ context.Context, customerRef string, amountCents int64) (string, error) {
	log.WithFields(log.Fields{"customer_ref": customerRef, "amount_cents": amountCents}).Info("rail: deposit charge (noop)")
	return "", fmt.Errorf("rail: no payment processor configured")
}

func (noopRail) ChargeInstallment(_ context.Context, customerRef string, amountCents int64) (string, error) {
	log.WithFields(log.Fields{"customer_ref": customerRef, "amount_cents": amountCents}).Info("rail: installment charge (noop)")
	return "", fmt.Errorf("rail: no payment processor configured")
}

func (noopRail) TransferToClinic(_ context.Context, clinicAccountRef string, amountCents int64) (string, error) {
	log.WithFields(log.Fields{"account_ref": clinicAccountRef, "amount_cents": amountCents}).Info("rail: clinic transfer (noop)")
	return "", fmt.Errorf("rail: no payment processor configured")
}

// requestID tags every request with an id for log correlation. An incoming
// X-Request-ID header is honored so upstream proxies can trace calls.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// RunServer boots the engine and serves until the context is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int, opts Options) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	engineCfg, errEngine := config.LoadEngineConfig(configPath)
	if errEngine != nil {
		return errEngine
	}

	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	sender := opts.Sender
	if sender == nil {
		sender = notify.LogSender{}
	}
	processor := opts.Rail
	if processor == nil {
		processor = noopRail{}
	}

	ledger := riskpool.NewLedger(conn)
	workflow := softcollect.NewWorkflow(conn, sender)
	handler := lifecycle.NewHandler(conn, engineCfg.Rates, workflow, sender)
	orchestrator := enrollment.NewOrchestrator(conn, engineCfg.Rates)
	retryEngine := retry.NewEngine(conn, sender)

	sweeper := sweep.NewSweeper(conn, retryEngine, handler, workflow, processor, engineCfg.Sweep.Interval)
	sweeper.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	webhook.NewHandler(handler).Register(router)
	adminapi.Register(router, conn, orchestrator, ledger, retryEngine)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("app: shutdown: %w", errShutdown)
		}
		return nil
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	}
}
