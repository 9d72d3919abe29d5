package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pawplan/pawplan/internal/models"
	"gorm.io/gorm"
)

// ClinicHandler manages clinic account endpoints.
type ClinicHandler struct {
	db *gorm.DB // Database handle for clinic records.
}

// NewClinicHandler constructs a clinic handler.
func NewClinicHandler(db *gorm.DB) *ClinicHandler {
	return &ClinicHandler{db: db}
}

// createClinicRequest captures the payload for registering a clinic.
type createClinicRequest struct {
	Name       string `json:"name"`        // Clinic display name.
	Email      string `json:"email"`       // Contact email.
	AccountRef string `json:"account_ref"` // Rail connected-account reference.
}

// Create registers a clinic eligible for enrollments.
func (h *ClinicHandler) Create(c *gin.Context) {
	var body createClinicRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	clinic := models.Clinic{
		Name:       strings.TrimSpace(body.Name),
		Email:      strings.TrimSpace(body.Email),
		AccountRef: strings.TrimSpace(body.AccountRef),
		Status:     models.ClinicStatusActive,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&clinic).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create clinic failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": clinic.ID, "name": clinic.Name, "status": int(clinic.Status)})
}

// updateClinicStatusRequest captures a clinic status change.
type updateClinicStatusRequest struct {
	Status int `json:"status"` // 1 (active) or 2 (inactive).
}

// UpdateStatus activates or deactivates a clinic.
func (h *ClinicHandler) UpdateStatus(c *gin.Context) {
	clinicID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || clinicID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clinic id"})
		return
	}
	var body updateClinicStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := models.ClinicStatus(body.Status)
	if status != models.ClinicStatusActive && status != models.ClinicStatusInactive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 1 (active) or 2 (inactive)"})
		return
	}

	var clinic models.Clinic
	if errFind := h.db.WithContext(c.Request.Context()).First(&clinic, clinicID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "clinic not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query clinic failed"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&clinic).Update("status", status).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update clinic failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": clinic.ID, "status": int(status)})
}
