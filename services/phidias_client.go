package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/models"

	"gorm.io/gorm"
)

// ErrPhidiasNotConfigured is returned at construction when the upstream
// credentials are missing. The service must fail fast here, before any
// request is attempted.
var ErrPhidiasNotConfigured = errors.New("phidias client not configured (PHIDIAS_BASE_URL/PHIDIAS_API_TOKEN)")

// UpstreamError is a non-retriable HTTP failure from Phidias.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("phidias api error: status %d body %s", e.Status, e.Message)
}

// RateLimitError means the retry ceiling was exhausted while the upstream
// kept signalling rate limiting. Callers can choose to wait and retry
// instead of treating it as fatal.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("phidias rate limit exceeded after %d attempts", e.Attempts)
}

// RequestResult is the outcome of one logical upstream request, after
// throttling and retries.
type RequestResult struct {
	Success     bool
	StatusCode  int
	Data        json.RawMessage
	RateLimited bool
	RetryAfter  time.Duration
	Err         error
}

const (
	defaultPhidiasTimeout  = 30 * time.Second
	defaultMinInterval     = 250 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultBackoffBase     = 500 * time.Millisecond
	defaultBackoffFactor   = 2.0
	defaultBackoffCap      = 30 * time.Second
	defaultPhidiasRetries  = 5
	phidiasErrorBodyLimit  = 4096
	phidiasResponseMaxSize = 16 << 20
)

// PhidiasClient is a throttled, retrying HTTP wrapper around the Phidias
// platform. All callers sharing one instance are serialized through the same
// minimum inter-request gate, so they are throttled together.
type PhidiasClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	db         *gorm.DB

	backoffBase   time.Duration
	backoffFactor float64
	backoffCap    time.Duration
	maxRetries    int

	mu          sync.Mutex
	interval    time.Duration
	minInterval time.Duration
	maxInterval time.Duration
	nextAllowed time.Time
}

// NewPhidiasClient builds the client from PHIDIAS_* environment variables.
// Missing base URL or token is a construction error, never a silent
// degradation.
func NewPhidiasClient(db *gorm.DB) (*PhidiasClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("PHIDIAS_BASE_URL")), "/")
	token := strings.TrimSpace(os.Getenv("PHIDIAS_API_TOKEN"))
	if baseURL == "" || token == "" {
		return nil, ErrPhidiasNotConfigured
	}

	c := newPhidiasClient(baseURL, token, db)
	if ms, err := strconv.Atoi(os.Getenv("PHIDIAS_MIN_INTERVAL_MS")); err == nil && ms > 0 {
		c.minInterval = time.Duration(ms) * time.Millisecond
		c.interval = c.minInterval
	}
	if n, err := strconv.Atoi(os.Getenv("PHIDIAS_MAX_RETRIES")); err == nil && n >= 0 {
		c.maxRetries = n
	}
	return c, nil
}

func newPhidiasClient(baseURL, token string, db *gorm.DB) *PhidiasClient {
	return &PhidiasClient{
		baseURL:       baseURL,
		token:         token,
		httpClient:    &http.Client{Timeout: defaultPhidiasTimeout},
		db:            db,
		backoffBase:   defaultBackoffBase,
		backoffFactor: defaultBackoffFactor,
		backoffCap:    defaultBackoffCap,
		maxRetries:    defaultPhidiasRetries,
		interval:      defaultMinInterval,
		minInterval:   defaultMinInterval,
		maxInterval:   defaultMaxInterval,
	}
}

// waitTurn blocks until this request may leave without violating the
// current minimum inter-request interval, then reserves the next slot.
func (c *PhidiasClient) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if c.nextAllowed.After(now) {
		wait = c.nextAllowed.Sub(now)
		c.nextAllowed = c.nextAllowed.Add(c.interval)
	} else {
		c.nextAllowed = now.Add(c.interval)
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onRateLimited widens the throttle; onSuccess narrows it back gradually.
func (c *PhidiasClient) onRateLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval *= 2
	if c.interval > c.maxInterval {
		c.interval = c.maxInterval
	}
}

func (c *PhidiasClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval -= c.interval / 10
	if c.interval < c.minInterval {
		c.interval = c.minInterval
	}
}

// backoffDelay grows per attempt up to the cap, so consecutive retries are
// strictly non-decreasing in spacing.
func (c *PhidiasClient) backoffDelay(attempt int) time.Duration {
	delay := float64(c.backoffBase)
	for i := 0; i < attempt; i++ {
		delay *= c.backoffFactor
	}
	if delay > float64(c.backoffCap) {
		return c.backoffCap
	}
	return time.Duration(delay)
}

func retryAfterHeader(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Request performs one logical GET against Phidias with throttling and
// retries. Rate limiting and transient failures are retried with exponential
// backoff; exhausting the ceiling surfaces RateLimited instead of an error
// loop. Non-retriable HTTP statuses fail immediately.
func (c *PhidiasClient) Request(ctx context.Context, path string, query url.Values, sessionID *string) *RequestResult {
	result := &RequestResult{}
	var lastDelay time.Duration
	lastWasRateLimit := false

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			if lastWasRateLimit && result.RetryAfter > delay {
				delay = result.RetryAfter
			}
			lastDelay = delay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			}
		}

		if err := c.waitTurn(ctx); err != nil {
			result.Err = err
			return result
		}

		status, body, reqErr := c.doOnce(ctx, path, query, sessionID, attempt+1)
		result.StatusCode = status

		switch {
		case reqErr != nil:
			// Transient network or timeout failure.
			lastWasRateLimit = false
			result.Err = reqErr
			continue

		case status == http.StatusTooManyRequests:
			lastWasRateLimit = true
			c.onRateLimited()
			result.RetryAfter = retryAfterHeader(body.header)
			result.Err = &RateLimitError{Attempts: attempt + 1, RetryAfter: result.RetryAfter}
			continue

		case status >= 200 && status < 300:
			c.onSuccess()
			result.Success = true
			result.Data = body.data
			result.Err = nil
			result.RateLimited = false
			return result

		case status >= 500 || status == http.StatusRequestTimeout:
			lastWasRateLimit = false
			result.Err = &UpstreamError{Status: status, Message: string(body.errBody)}
			continue

		default:
			// Non-retriable client error.
			result.Err = &UpstreamError{Status: status, Message: string(body.errBody)}
			return result
		}
	}

	if lastWasRateLimit {
		result.RateLimited = true
		if result.RetryAfter == 0 {
			result.RetryAfter = lastDelay
		}
	}
	return result
}

type phidiasBody struct {
	data    json.RawMessage
	errBody []byte
	header  http.Header
}

func (c *PhidiasClient) doOnce(ctx context.Context, path string, query url.Values, sessionID *string, attempt int) (int, phidiasBody, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, phidiasBody{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(started)

	status := 0
	var body phidiasBody
	if resp != nil {
		status = resp.StatusCode
		body.header = resp.Header
	}

	if err == nil {
		defer resp.Body.Close()
		if status >= 200 && status < 300 {
			data, readErr := io.ReadAll(io.LimitReader(resp.Body, phidiasResponseMaxSize))
			if readErr != nil {
				err = readErr
			} else {
				body.data = data
			}
		} else {
			body.errBody, _ = io.ReadAll(io.LimitReader(resp.Body, phidiasErrorBodyLimit))
		}
	}

	c.recordAPIRequest(ctx, req, sessionID, attempt, status, duration, err)
	return status, body, err
}

// recordAPIRequest audits the call, retries included. Audit failures are
// logged and never fail the request itself.
func (c *PhidiasClient) recordAPIRequest(ctx context.Context, req *http.Request, sessionID *string, attempt, status int, duration time.Duration, reqErr error) {
	if c.db == nil || req == nil {
		return
	}

	responseMs := int(duration / time.Millisecond)
	record := &models.PhidiasAPIRequest{
		SessionID:      sessionID,
		HTTPMethod:     req.Method,
		Endpoint:       req.URL.Path,
		Attempt:        attempt,
		ResponseTimeMs: &responseMs,
		RateLimited:    status == http.StatusTooManyRequests,
	}
	if raw := req.URL.RawQuery; raw != "" {
		record.QueryParams = &raw
	}
	if status > 0 {
		record.ResponseStatus = &status
	}
	if reqErr != nil {
		msg := reqErr.Error()
		record.ErrorMessage = &msg
	}

	if err := c.db.WithContext(ctx).Create(record).Error; err != nil {
		log.Printf("failed to record phidias api request: %v", err)
	}
}

// PhidiasRecord is one disciplinary record as Phidias returns it.
type PhidiasRecord struct {
	ID          int64  `json:"id"`
	SubjectID   int64  `json:"person_id"`
	SubjectCode string `json:"person_code"`
	SubjectName string `json:"person_name"`
	RecordedAt  int64  `json:"timestamp"`
}

// IsGhostRecord is the default ghost filter: Phidias emits rows with a zero
// subject id, an epoch-zero timestamp or an empty subject name to mean "no
// data". The heuristic tracks one observed upstream version, which is why
// the sync service takes it as an injectable predicate.
func IsGhostRecord(r PhidiasRecord) bool {
	return r.SubjectID == 0 || r.RecordedAt == 0 || strings.TrimSpace(r.SubjectName) == ""
}

// FetchPollRecords returns the authoritative record set of one poll,
// optionally narrowed to a single student code.
func (c *PhidiasClient) FetchPollRecords(ctx context.Context, pollID int64, studentCode string, sessionID *string) ([]PhidiasRecord, error) {
	query := url.Values{}
	if studentCode != "" {
		query.Set("person", studentCode)
	}

	result := c.Request(ctx, fmt.Sprintf("/polls/%d/records", pollID), query, sessionID)
	if !result.Success {
		if result.RateLimited {
			return nil, &RateLimitError{Attempts: c.maxRetries + 1, RetryAfter: result.RetryAfter}
		}
		return nil, result.Err
	}

	var payload struct {
		Records []PhidiasRecord `json:"records"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode phidias response: %w", err)
	}
	return payload.Records, nil
}
