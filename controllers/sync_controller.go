package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/JalejandroV93/student-tracking-sub001/models"
	"github.com/JalejandroV93/student-tracking-sub001/services"

	"github.com/gin-gonic/gin"
)

// syncService is shared process-wide so the upstream throttle and the
// session registry survive across requests. Wired once at startup.
var syncService *services.SyncService

func SetSyncService(s *services.SyncService) {
	syncService = s
}

func requireSyncService(c *gin.Context) bool {
	if syncService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Reconciliation is not configured"})
		return false
	}
	return true
}

// TriggerSync starts a reconciliation run. mode=async (the default) answers
// 202 with a session id to poll; mode=sync blocks and answers 200 on full
// success or 207 when some configurations failed.
func TriggerSync(c *gin.Context) {
	if !requireSyncService(c) {
		return
	}

	scope, ok := parseScope(c)
	if !ok {
		return
	}

	trigger := strings.TrimSpace(c.Query("trigger"))
	if trigger == "" {
		trigger = "api"
	}

	mode := strings.ToLower(strings.TrimSpace(c.Query("mode")))
	if mode == "" || mode == "async" {
		sessionID := syncService.StartAsync(scope, trigger)
		c.JSON(http.StatusAccepted, gin.H{
			"success":    true,
			"session_id": sessionID,
			"state":      services.SessionStateRunning,
		})
		return
	}
	if mode != "sync" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be async or sync"})
		return
	}

	result, err := syncService.Run(c.Request.Context(), scope, trigger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"success": result.Success, "result": result})
}

// GetSyncStatus answers a session poll, falling back to the durable audit
// log once the in-memory session has been evicted.
func GetSyncStatus(c *gin.Context) {
	if !requireSyncService(c) {
		return
	}

	sessionID := c.Param("session_id")
	status := syncService.Status(c.Request.Context(), sessionID)

	code := http.StatusOK
	if status.State == services.SessionStateNotFound {
		code = http.StatusNotFound
	}
	c.JSON(code, status)
}

// ListSyncRuns returns the reconciliation history, newest first.
func ListSyncRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, total, err := services.NewSyncRunService(nil).List(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"runs":    runs,
		"total":   total,
	})
}

func parseScope(c *gin.Context) (services.SyncScope, bool) {
	switch strings.ToLower(strings.TrimSpace(c.DefaultQuery("scope", "full"))) {
	case "full":
		return services.FullScope(), true
	case "level":
		level := strings.ToLower(strings.TrimSpace(c.Query("level")))
		if !models.ValidAcademicLevel(level) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be preschool, elementary, middle or high"})
			return services.SyncScope{}, false
		}
		return services.LevelScope(models.AcademicLevel(level)), true
	case "student":
		code := strings.TrimSpace(c.Query("student_code"))
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_code is required for student scope"})
			return services.SyncScope{}, false
		}
		return services.StudentScope(code), true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be full, level or student"})
		return services.SyncScope{}, false
	}
}
