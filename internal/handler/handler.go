package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attempt"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/queue"
	"faceattend/internal/registry"
)

// Check is a named dependency check reported by /healthz.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Clearer empties the staging area.
type Clearer interface {
	Clear() error
}

// Deps are the collaborators a Handler serves.
type Deps struct {
	Service     *attendance.Service
	Reporter    *attendance.Reporter
	Attempts    attempt.Store
	Queue       queue.Queue
	Staging     Clearer
	Issuer      *auth.Issuer
	KioskSecret string
	AdminSecret string
	Checks      []Check
}

// Handler holds the HTTP endpoints.
type Handler struct {
	Deps
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// ---------- Health ----------

// Healthz pings every dependency and answers 503 when any of them fails.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for _, chk := range h.Checks {
		if err := chk.Run(ctx); err != nil {
			log.Printf("healthz: %s unhealthy: %v", chk.Name, err)
			checks[chk.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[chk.Name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

// ---------- Tokens ----------

type kioskTokenRequest struct {
	KioskID string `json:"kiosk_id" binding:"required"`
	Secret  string `json:"secret" binding:"required"`
}

// KioskToken exchanges the shared kiosk secret for kiosk tokens.
func (h *Handler) KioskToken(c *gin.Context) {
	var req kioskTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !auth.SecretMatches(h.KioskSecret, req.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, req.KioskID, auth.RoleKiosk)
}

type adminTokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// AdminToken exchanges the admin secret for admin tokens.
func (h *Handler) AdminToken(c *gin.Context) {
	var req adminTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !auth.SecretMatches(h.AdminSecret, req.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, "admin", auth.RoleAdmin)
}

func (h *Handler) issue(c *gin.Context, subject, role string) {
	tokens, err := h.Issuer.Issue(subject, role)
	if err != nil {
		log.Printf("token issue failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh trades a refresh token for a new pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.Issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// ---------- Attendance ----------

// MarkAttendance identifies the uploaded photo and records attendance.
// Expects multipart form with a photo file.
func (h *Handler) MarkAttendance(c *gin.Context) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()

	out, err := h.Service.Mark(c.Request.Context(), header.Filename, file)
	if err != nil {
		log.Printf("mark attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// MarkAttendanceAsync stages the photo and queues it for a worker.
func (h *Handler) MarkAttendanceAsync(c *gin.Context) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()

	path, err := h.Service.Stage(header.Filename, file)
	if err != nil {
		log.Printf("stage capture failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store photo"})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	a := attempt.New(claims.Subject, path)
	ctx := c.Request.Context()
	if err := h.Attempts.Save(ctx, a); err != nil {
		h.Service.Discard(path)
		log.Printf("save attempt failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue attempt"})
		return
	}
	if err := h.Queue.Publish(ctx, queue.Message{Type: queue.TypeIdentify, Body: a.ID}); err != nil {
		h.Service.Discard(path)
		a.Complete(attendance.Outcome{}, err)
		_ = h.Attempts.Save(ctx, a)
		log.Printf("queue publish failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"attempt_id": a.ID, "status": a.Status})
}

// GetAttempt reports an asynchronous attempt. Kiosks only see their own.
func (h *Handler) GetAttempt(c *gin.Context) {
	a, err := h.Attempts.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, attempt.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Role == auth.RoleKiosk && a.KioskID != claims.Subject {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// ---------- Reports ----------

// Today lists the employees present today.
func (h *Handler) Today(c *gin.Context) {
	entries, err := h.Reporter.Daily(c.Request.Context())
	if err != nil {
		log.Printf("daily report failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Count returns today's head count and latest time.
func (h *Handler) Count(c *gin.Context) {
	sum, err := h.Reporter.TodayCount(c.Request.Context())
	if err != nil {
		log.Printf("count report failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Monthly lists every employee's days in /:year/:month. Month is a name
// ("March") or number ("3").
func (h *Handler) Monthly(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	month, ok := monthName(c.Param("month"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return
	}
	entries, err := h.Reporter.Monthly(c.Request.Context(), year, month)
	if err != nil {
		log.Printf("monthly report failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "month": month, "entries": entries})
}

func monthName(s string) (string, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return "", false
		}
		return time.Month(n).String(), true
	}
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), s) {
			return m.String(), true
		}
	}
	return "", false
}

// ---------- Employees ----------

type enrollRequest struct {
	EmployeeID string `form:"employee_id" binding:"required"`
	Name       string `form:"name"`
}

// Enroll registers an employee's reference photo.
// Expects multipart form with fields: employee_id, name, photo (file).
func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()

	ref, err := h.Service.Enroll(c.Request.Context(), req.EmployeeID, req.Name, header.Filename, file)
	switch {
	case errors.Is(err, registry.ErrInvalidID), errors.Is(err, registry.ErrUnsupportedImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, attendance.ErrNoFace):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Printf("enroll %s failed: %v", req.EmployeeID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enroll failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"emp_no": ref.EmployeeID, "file": filepath.Base(ref.Path)})
}

// Unenroll removes an employee's reference photo.
func (h *Handler) Unenroll(c *gin.Context) {
	err := h.Service.Unenroll(c.Param("id"))
	switch {
	case errors.Is(err, registry.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrUnknownEmployee):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		log.Printf("unenroll failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unenroll failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// Employees lists enrolled reference photos.
func (h *Handler) Employees(c *gin.Context) {
	refs, err := h.Service.Employees()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(refs))
	for _, ref := range refs {
		out = append(out, gin.H{"emp_no": ref.EmployeeID, "file": filepath.Base(ref.Path)})
	}
	c.JSON(http.StatusOK, gin.H{"employees": out})
}

// ClearStaging deletes every staged capture.
func (h *Handler) ClearStaging(c *gin.Context) {
	if err := h.Staging.Clear(); err != nil {
		log.Printf("clear staging failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
