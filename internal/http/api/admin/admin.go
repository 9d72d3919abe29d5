// Package admin wires the administrative API routes.
package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/enrollment"
	"github.com/pawplan/pawplan/internal/http/api/admin/handlers"
	"github.com/pawplan/pawplan/internal/retry"
	"github.com/pawplan/pawplan/internal/riskpool"
	"gorm.io/gorm"
)

// Register mounts the admin API under /admin.
func Register(r gin.IRouter, db *gorm.DB, orchestrator *enrollment.Orchestrator, ledger *riskpool.Ledger, engine *retry.Engine) {
	plans := handlers.NewPlanHandler(db, orchestrator)
	clinics := handlers.NewClinicHandler(db)
	pool := handlers.NewRiskPoolHandler(ledger)
	diagnostics := handlers.NewDiagnosticsHandler(engine)

	group := r.Group("/admin")
	group.POST("/plans", plans.Enroll)
	group.GET("/plans/:id", plans.Get)
	group.POST("/plans/:id/cancel", plans.Cancel)

	group.POST("/clinics", clinics.Create)
	group.PUT("/clinics/:id/status", clinics.UpdateStatus)

	group.GET("/riskpool", pool.Status)
	group.POST("/riskpool/recoveries", pool.RecordRecovery)

	group.GET("/diagnostics/retry-success-rate", diagnostics.RetrySuccessRate)
}
