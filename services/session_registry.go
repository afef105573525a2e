package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/config"
)

const (
	SessionStateRunning   = "running"
	SessionStateCompleted = "completed"
	SessionStateError     = "error"
	SessionStateNotFound  = "not_found"
)

// DefaultSessionTTL bounds how long a finished or stuck session stays in the
// registry. Eviction never touches the durable audit record.
const DefaultSessionTTL = 90 * time.Minute

// SyncSession tracks one reconciliation run in memory: a pending future of
// its SyncResult. Sessions are transient and lost on restart; the sync_runs
// table is the source of truth.
type SyncSession struct {
	ID        string
	Scope     string
	StartedAt time.Time

	done chan struct{}

	mu     sync.Mutex
	result *SyncResult
	err    error
}

func NewSyncSession(id, scope string) *SyncSession {
	return &SyncSession{
		ID:        id,
		Scope:     scope,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Complete resolves the session future. Calling it twice is a no-op.
func (s *SyncSession) Complete(result *SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.result = result
	s.err = err
	close(s.done)
}

// Await waits up to timeout for the session to finish. The bool reports
// whether it did; a false return means the run is still going.
func (s *SyncSession) Await(timeout time.Duration) (*SyncResult, error, bool) {
	select {
	case <-s.done:
	case <-time.After(timeout):
		return nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err, true
}

// State reports the session without blocking.
func (s *SyncSession) State() string {
	select {
	case <-s.done:
	default:
		return SessionStateRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return SessionStateError
	}
	return SessionStateCompleted
}

// SessionSnapshot is the serializable view of a session, mirrored to Redis
// when that backend is configured.
type SessionSnapshot struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	StartedAt time.Time `json:"started_at"`
	State     string    `json:"state"`
}

func (s *SyncSession) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:        s.ID,
		Scope:     s.Scope,
		StartedAt: s.StartedAt,
		State:     s.State(),
	}
}

// SessionRegistry tracks running sync sessions. It is injected into the sync
// service so the backing store can change without touching call sites.
type SessionRegistry interface {
	Put(session *SyncSession)
	Get(id string) (*SyncSession, bool)
	Evict(id string)
}

type memoryEntry struct {
	session   *SyncSession
	expiresAt time.Time
}

// MemorySessionRegistry is the default in-process registry with TTL
// eviction. Expired entries are swept lazily on access.
type MemorySessionRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemorySessionRegistry(ttl time.Duration) *MemorySessionRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionRegistry{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (r *MemorySessionRegistry) Put(session *SyncSession) {
	if session == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.entries[session.ID] = memoryEntry{
		session:   session,
		expiresAt: time.Now().Add(r.ttl),
	}
}

func (r *MemorySessionRegistry) Get(id string) (*SyncSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(r.entries, id)
		return nil, false
	}
	return entry.session, true
}

func (r *MemorySessionRegistry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *MemorySessionRegistry) sweepLocked() {
	now := time.Now()
	for id, entry := range r.entries {
		if now.After(entry.expiresAt) {
			delete(r.entries, id)
		}
	}
}

// RedisSessionRegistry wraps the in-memory registry and mirrors session
// snapshots to Redis, so replicas without the live future can still answer
// a fast "running" before falling through to the audit log. The mirror is
// only trustworthy while the owning process re-Puts the session on
// completion; the sync service does that, keeping the snapshot's state
// current.
type RedisSessionRegistry struct {
	local *MemorySessionRegistry
	ttl   time.Duration
}

func NewRedisSessionRegistry(ttl time.Duration) *RedisSessionRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionRegistry{
		local: NewMemorySessionRegistry(ttl),
		ttl:   ttl,
	}
}

func sessionKey(id string) string { return "sync:session:" + id }

func (r *RedisSessionRegistry) Put(session *SyncSession) {
	if session == nil {
		return
	}
	r.local.Put(session)
	if err := config.SetRedisObject(context.Background(), sessionKey(session.ID), session.Snapshot(), r.ttl); err != nil {
		log.Printf("failed to mirror sync session %s to redis: %v", session.ID, err)
	}
}

func (r *RedisSessionRegistry) Get(id string) (*SyncSession, bool) {
	if session, ok := r.local.Get(id); ok {
		return session, true
	}

	var snapshot SessionSnapshot
	found, err := config.GetRedisObject(context.Background(), sessionKey(id), &snapshot)
	if err != nil {
		log.Printf("failed to read sync session %s from redis: %v", id, err)
		return nil, false
	}
	return sessionFromSnapshot(snapshot, found)
}

// sessionFromSnapshot rebuilds a session from a mirrored snapshot. Only a
// running snapshot yields a session; finished ones are answered from the
// audit log, which has the counts the snapshot lacks.
func sessionFromSnapshot(snapshot SessionSnapshot, found bool) (*SyncSession, bool) {
	if !found || snapshot.State != SessionStateRunning {
		return nil, false
	}
	session := NewSyncSession(snapshot.ID, snapshot.Scope)
	session.StartedAt = snapshot.StartedAt
	return session, true
}

func (r *RedisSessionRegistry) Evict(id string) {
	r.local.Evict(id)
	if err := config.DeleteRedisKey(context.Background(), sessionKey(id)); err != nil {
		log.Printf("failed to evict sync session %s from redis: %v", id, err)
	}
}
