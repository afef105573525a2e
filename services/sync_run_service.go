package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"

	"gorm.io/gorm"
)

var ErrSyncRunNotFound = errors.New("sync run not found")

// SyncRunService persists the durable audit trail of reconciliation
// sessions.
type SyncRunService struct {
	db *gorm.DB
}

func NewSyncRunService(db *gorm.DB) *SyncRunService {
	if db == nil {
		db = config.DB
	}
	return &SyncRunService{db: db}
}

func (s *SyncRunService) Start(sessionID, scope, trigger string) (*models.SyncRun, error) {
	if trigger == "" {
		trigger = "unknown"
	}
	run := &models.SyncRun{
		SessionID:     sessionID,
		Scope:         scope,
		TriggerSource: trigger,
		Status:        models.SyncRunStatusRunning,
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Finish records the terminal state of a run. A nil result with an error is
// a failed run; a result with item errors is partial.
func (s *SyncRunService) Finish(runID uint, result *SyncResult, runErr error) error {
	status := models.SyncRunStatusSuccess
	updates := map[string]interface{}{
		"finished_at": time.Now(),
	}

	if runErr != nil {
		status = models.SyncRunStatusFailed
		msg := runErr.Error()
		if len(msg) > 2000 {
			msg = fmt.Sprintf("%s...", msg[:1997])
		}
		updates["error_message"] = msg
	}

	if result != nil {
		if result.ErrorCount > 0 && runErr == nil {
			status = models.SyncRunStatusPartial
		}
		updates["processed_count"] = result.Processed
		updates["synced_count"] = result.SyncedCount
		updates["out_of_sync_count"] = result.OutOfSyncCount
		updates["error_count"] = result.ErrorCount
		updates["duration_seconds"] = result.Duration
		if itemErrors := result.itemErrors(); len(itemErrors) > 0 {
			if data, err := json.Marshal(itemErrors); err == nil {
				updates["errors_json"] = string(data)
			}
		}
	}
	updates["status"] = status

	res := s.db.Model(&models.SyncRun{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSyncRunNotFound
	}
	return nil
}

func (s *SyncRunService) GetBySessionID(sessionID string) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := s.db.Where("session_id = ?", sessionID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSyncRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (s *SyncRunService) List(limit, offset int) ([]models.SyncRun, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.Model(&models.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []models.SyncRun
	err := s.db.Order("started_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}
