package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// statusPollWait is how long a status query waits on a running session
// before reporting "still running" instead of blocking the poller.
const statusPollWait = time.Second

// SyncScopeKind selects what a reconciliation run covers.
type SyncScopeKind string

const (
	ScopeFull    SyncScopeKind = "full"
	ScopeLevel   SyncScopeKind = "level"
	ScopeStudent SyncScopeKind = "student"
)

// SyncScope is the target of one reconciliation run.
type SyncScope struct {
	Kind        SyncScopeKind
	Level       models.AcademicLevel
	StudentCode string
}

func FullScope() SyncScope { return SyncScope{Kind: ScopeFull} }

func LevelScope(level models.AcademicLevel) SyncScope {
	return SyncScope{Kind: ScopeLevel, Level: level}
}

func StudentScope(code string) SyncScope {
	return SyncScope{Kind: ScopeStudent, StudentCode: code}
}

// Key is the scope's identity for single-flight grouping and audit rows.
func (s SyncScope) Key() string {
	switch s.Kind {
	case ScopeLevel:
		return "level:" + string(s.Level)
	case ScopeStudent:
		return "student:" + s.StudentCode
	default:
		return "full"
	}
}

// Classification of one tracked configuration after comparing counts. Never
// a bare boolean: the dashboard needs to tell surplus from deficit from
// upstream failure.
const (
	ConfigStatusSynced    = "synced"
	ConfigStatusOutOfSync = "out_of_sync"
	ConfigStatusError     = "error"
)

// ConfigOutcome is the reconciliation verdict for one SyncConfiguration.
// Delta is remote minus local: positive means the local store is missing
// records, negative means it has surplus.
type ConfigOutcome struct {
	ConfigID      uint                 `json:"config_id"`
	FaultType     models.FaultType     `json:"fault_type"`
	AcademicLevel models.AcademicLevel `json:"academic_level"`
	PollID        int64                `json:"poll_id"`
	Status        string               `json:"status"`
	LocalCount    int64                `json:"local_count"`
	RemoteCount   int64                `json:"remote_count"`
	Delta         int64                `json:"delta"`
	GhostsDropped int                  `json:"ghosts_dropped,omitempty"`
	Error         string               `json:"error,omitempty"`
	RateLimited   bool                 `json:"rate_limited,omitempty"`
}

// SyncResult summarizes a completed reconciliation session.
type SyncResult struct {
	SessionID      string          `json:"session_id"`
	Scope          string          `json:"scope"`
	Processed      int             `json:"processed"`
	SyncedCount    int             `json:"synced_count"`
	OutOfSyncCount int             `json:"out_of_sync_count"`
	ErrorCount     int             `json:"error_count"`
	Items          []ConfigOutcome `json:"items"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       float64         `json:"duration_seconds"`
	Success        bool            `json:"success"`
}

// SyncItemError is the audit-log form of a per-configuration failure.
type SyncItemError struct {
	ConfigID uint   `json:"config_id"`
	PollID   int64  `json:"poll_id"`
	Message  string `json:"message"`
}

func (r *SyncResult) itemErrors() []SyncItemError {
	var out []SyncItemError
	for _, item := range r.Items {
		if item.Status == ConfigStatusError {
			out = append(out, SyncItemError{ConfigID: item.ConfigID, PollID: item.PollID, Message: item.Error})
		}
	}
	return out
}

// SyncStatus is the answer to a status query.
type SyncStatus struct {
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Result    *SyncResult     `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	AuditRun  *models.SyncRun `json:"audit_run,omitempty"`
}

// GhostPredicate decides whether an upstream record is a placeholder rather
// than real data. Injectable because the heuristic is upstream-version
// dependent.
type GhostPredicate func(PhidiasRecord) bool

// recordFetcher is the slice of the Phidias client the sync service needs.
type recordFetcher interface {
	FetchPollRecords(ctx context.Context, pollID int64, studentCode string, sessionID *string) ([]PhidiasRecord, error)
}

// SyncService keeps the local store reconciled against Phidias. It never
// merges transactionally; it compares counts per tracked configuration and
// reports drift for the dashboard to act on.
type SyncService struct {
	db       *gorm.DB
	fetcher  recordFetcher
	registry SessionRegistry
	runs     *SyncRunService

	// Ghost filters upstream placeholder rows; defaults to IsGhostRecord.
	Ghost GhostPredicate

	singleFlight bool
	notifyEmails []string

	group     singleflight.Group
	runningMu sync.Mutex
	running   map[string]*SyncSession
}

func NewSyncService(db *gorm.DB, fetcher recordFetcher, registry SessionRegistry) *SyncService {
	if db == nil {
		db = config.DB
	}
	if registry == nil {
		registry = NewMemorySessionRegistry(DefaultSessionTTL)
	}

	var notify []string
	for _, addr := range strings.Split(os.Getenv("SYNC_NOTIFY_EMAILS"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			notify = append(notify, addr)
		}
	}

	return &SyncService{
		db:           db,
		fetcher:      fetcher,
		registry:     registry,
		runs:         NewSyncRunService(db),
		Ghost:        IsGhostRecord,
		singleFlight: !strings.EqualFold(os.Getenv("SYNC_SINGLE_FLIGHT"), "false"),
		notifyEmails: notify,
		running:      make(map[string]*SyncSession),
	}
}

// SyncAll reconciles every active configuration of the active year.
func (s *SyncService) SyncAll(ctx context.Context, trigger string) (*SyncResult, error) {
	return s.Run(ctx, FullScope(), trigger)
}

// SyncLevel reconciles the configurations of one academic level.
func (s *SyncService) SyncLevel(ctx context.Context, level models.AcademicLevel, trigger string) (*SyncResult, error) {
	return s.Run(ctx, LevelScope(level), trigger)
}

// SyncStudent reconciles every configuration narrowed to one student.
func (s *SyncService) SyncStudent(ctx context.Context, studentCode, trigger string) (*SyncResult, error) {
	return s.Run(ctx, StudentScope(studentCode), trigger)
}

// Run executes a reconciliation synchronously. With single-flight enabled,
// concurrent calls for the same scope share one upstream pass; distinct
// scopes always proceed independently.
func (s *SyncService) Run(ctx context.Context, scope SyncScope, trigger string) (*SyncResult, error) {
	if !s.singleFlight {
		return s.runScoped(ctx, scope, trigger)
	}
	v, err, _ := s.group.Do(scope.Key(), func() (interface{}, error) {
		return s.runScoped(ctx, scope, trigger)
	})
	result, _ := v.(*SyncResult)
	return result, err
}

// StartAsync launches a reconciliation in the background and returns its
// session id immediately. With single-flight enabled, a request for an
// already-running scope attaches to the existing session instead of starting
// duplicate upstream work.
func (s *SyncService) StartAsync(scope SyncScope, trigger string) string {
	if s.singleFlight {
		if existing := s.runningSession(scope.Key()); existing != nil {
			return existing.ID
		}
	}

	session := s.newSession(scope)
	go func() {
		defer s.clearRunning(scope.Key(), session)
		result, err := s.execute(context.Background(), session, scope, trigger)
		s.finishSession(session, result, err)
	}()
	return session.ID
}

// Status answers a session query, waiting briefly on a running session and
// falling back to the durable audit log when the session is no longer
// tracked in memory.
func (s *SyncService) Status(ctx context.Context, sessionID string) *SyncStatus {
	if session, ok := s.registry.Get(sessionID); ok {
		result, err, finished := session.Await(statusPollWait)
		if !finished {
			return &SyncStatus{SessionID: sessionID, State: SessionStateRunning}
		}
		if err != nil {
			return &SyncStatus{SessionID: sessionID, State: SessionStateError, Error: err.Error()}
		}
		return &SyncStatus{SessionID: sessionID, State: SessionStateCompleted, Result: result}
	}

	run, err := s.runs.GetBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, ErrSyncRunNotFound) {
			return &SyncStatus{SessionID: sessionID, State: SessionStateNotFound}
		}
		return &SyncStatus{SessionID: sessionID, State: SessionStateError, Error: err.Error()}
	}

	switch run.Status {
	case models.SyncRunStatusRunning:
		return &SyncStatus{SessionID: sessionID, State: SessionStateRunning, AuditRun: run}
	case models.SyncRunStatusFailed:
		status := &SyncStatus{SessionID: sessionID, State: SessionStateError, AuditRun: run}
		if run.ErrorMessage != nil {
			status.Error = *run.ErrorMessage
		}
		return status
	default:
		return &SyncStatus{SessionID: sessionID, State: SessionStateCompleted, AuditRun: run}
	}
}

func (s *SyncService) runScoped(ctx context.Context, scope SyncScope, trigger string) (*SyncResult, error) {
	session := s.newSession(scope)
	defer s.clearRunning(scope.Key(), session)

	result, err := s.execute(ctx, session, scope, trigger)
	s.finishSession(session, result, err)
	return result, err
}

// finishSession resolves the future and re-registers the session so
// registries mirroring snapshots elsewhere see the terminal state. Without
// the refresh a replica would keep answering "running" off a stale mirror
// instead of falling through to the audit log.
func (s *SyncService) finishSession(session *SyncSession, result *SyncResult, err error) {
	session.Complete(result, err)
	s.registry.Put(session)
}

func (s *SyncService) newSession(scope SyncScope) *SyncSession {
	session := NewSyncSession(uuid.NewString(), scope.Key())
	s.registry.Put(session)

	s.runningMu.Lock()
	s.running[scope.Key()] = session
	s.runningMu.Unlock()
	return session
}

func (s *SyncService) runningSession(key string) *SyncSession {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if session, ok := s.running[key]; ok && session.State() == SessionStateRunning {
		return session
	}
	return nil
}

func (s *SyncService) clearRunning(key string, session *SyncSession) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running[key] == session {
		delete(s.running, key)
	}
}

func (s *SyncService) execute(ctx context.Context, session *SyncSession, scope SyncScope, trigger string) (*SyncResult, error) {
	run, err := s.runs.Start(session.ID, scope.Key(), trigger)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &SyncResult{
		SessionID: session.ID,
		Scope:     scope.Key(),
		StartedAt: started,
		Items:     []ConfigOutcome{},
	}

	configs, err := s.loadConfigurations(ctx, scope)
	if err != nil {
		if finishErr := s.runs.Finish(run.ID, result, err); finishErr != nil {
			log.Printf("failed to mark sync run %s failed: %v", session.ID, finishErr)
		}
		return nil, err
	}

	for _, cfg := range configs {
		outcome := s.reconcileConfiguration(ctx, session, scope, cfg)
		result.Items = append(result.Items, outcome)
		result.Processed++
		switch outcome.Status {
		case ConfigStatusSynced:
			result.SyncedCount++
		case ConfigStatusOutOfSync:
			result.OutOfSyncCount++
		default:
			result.ErrorCount++
		}
	}

	result.Duration = time.Since(started).Seconds()
	result.Success = result.ErrorCount == 0

	if err := s.runs.Finish(run.ID, result, nil); err != nil {
		log.Printf("failed to finish sync run %s: %v", session.ID, err)
	}
	if result.ErrorCount > 0 {
		s.notifyFailures(result)
	}
	return result, nil
}

// reconcileConfiguration compares one configuration's authoritative remote
// count against the local store. A failure here is scoped: it never stops
// the other configurations.
func (s *SyncService) reconcileConfiguration(ctx context.Context, session *SyncSession, scope SyncScope, cfg models.SyncConfiguration) ConfigOutcome {
	outcome := ConfigOutcome{
		ConfigID:      cfg.ID,
		FaultType:     cfg.FaultType,
		AcademicLevel: cfg.AcademicLevel,
		PollID:        cfg.ExternalPollID,
	}

	records, err := s.fetcher.FetchPollRecords(ctx, cfg.ExternalPollID, scope.StudentCode, &session.ID)
	if err != nil {
		outcome.Status = ConfigStatusError
		outcome.Error = err.Error()
		var rateErr *RateLimitError
		outcome.RateLimited = errors.As(err, &rateErr)
		log.Printf("sync %s: poll %d fetch failed: %v", session.ID, cfg.ExternalPollID, err)
		return outcome
	}

	ghost := s.Ghost
	if ghost == nil {
		ghost = IsGhostRecord
	}
	for _, record := range records {
		if ghost(record) {
			outcome.GhostsDropped++
			continue
		}
		outcome.RemoteCount++
	}

	query := s.db.WithContext(ctx).Model(&models.FaultRecord{}).
		Where("fault_type = ? AND academic_level = ? AND academic_year_id = ?",
			cfg.FaultType, cfg.AcademicLevel, cfg.AcademicYearID)
	if scope.StudentCode != "" {
		query = query.Where("student_code = ?", scope.StudentCode)
	}
	if err := query.Count(&outcome.LocalCount).Error; err != nil {
		outcome.Status = ConfigStatusError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Delta = outcome.RemoteCount - outcome.LocalCount
	if outcome.Delta == 0 {
		outcome.Status = ConfigStatusSynced
	} else {
		outcome.Status = ConfigStatusOutOfSync
	}
	return outcome
}

func (s *SyncService) loadConfigurations(ctx context.Context, scope SyncScope) ([]models.SyncConfiguration, error) {
	query := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("academic_year_id IN (?)",
			s.db.Model(&models.AcademicYear{}).Select("year_id").Where("is_active = ?", true))
	if scope.Kind == ScopeLevel {
		query = query.Where("academic_level = ?", scope.Level)
	}

	var configs []models.SyncConfiguration
	if err := query.Order("fault_type ASC, academic_level ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *SyncService) notifyFailures(result *SyncResult) {
	if len(s.notifyEmails) == 0 {
		return
	}
	subject := fmt.Sprintf("Reconciliation %s finished with %d error(s)", result.Scope, result.ErrorCount)
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Session %s processed %d configuration(s): %d synced, %d out of sync, %d failed.</p><ul>",
		result.SessionID, result.Processed, result.SyncedCount, result.OutOfSyncCount, result.ErrorCount)
	for _, item := range result.itemErrors() {
		fmt.Fprintf(&b, "<li>poll %d: %s</li>", item.PollID, item.Message)
	}
	b.WriteString("</ul>")

	if err := config.SendMail(s.notifyEmails, subject, b.String()); err != nil {
		log.Printf("failed to send sync failure notification: %v", err)
	}
}
