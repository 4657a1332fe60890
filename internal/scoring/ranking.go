package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/cms-dev/cms/internal/adapter/observability"
)

// RankingEndpoint is one configured ranking server (spec.md §4.G:
// "N configured endpoints with HTTP Basic auth").
type RankingEndpoint struct {
	BaseURL  string
	Username string
	Password string
}

// rankingOperation is one FIFO entry: an HTTP PUT (with a POST create
// fallback for put_change) against every configured endpoint that
// hasn't already accepted it.
type rankingOperation struct {
	kind    string // "init", "put_submission", "put_change" — for logging only
	path    string
	payload any

	// pending is the set of endpoint indexes that still need this
	// operation; an endpoint is dropped once it 200/201s.
	pending map[int]bool
}

// RankingClient relays score/token updates to the configured ranking
// endpoints: an in-memory FIFO drained by DrainOnce on a periodic timer
// (spec.md §4.G). RankingClient has no sweep of its own; Service.Sweep
// re-scores evaluated-but-not-scored submissions, which enqueues their
// ranking updates again. Grounded on the teacher's internal/adapter/ai/real HTTP client
// idiom (context-bound http.Client, cenkalti/backoff/v4 for retries) and
// ScoringService.py's dispatch_operations/send_submission/send_change.
type RankingClient struct {
	endpoints []RankingEndpoint
	hc        *http.Client
	log       *slog.Logger

	mu    sync.Mutex
	queue []*rankingOperation
}

// NewRankingClient builds a client posting to endpoints.
func NewRankingClient(endpoints []RankingEndpoint, log *slog.Logger) *RankingClient {
	if log == nil {
		log = slog.Default()
	}
	return &RankingClient{
		endpoints: endpoints,
		hc:        &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

func (c *RankingClient) enqueue(kind, path string, payload any) {
	pending := make(map[int]bool, len(c.endpoints))
	for i := range c.endpoints {
		pending[i] = true
	}
	c.mu.Lock()
	c.queue = append(c.queue, &rankingOperation{kind: kind, path: path, payload: payload, pending: pending})
	c.mu.Unlock()
}

// Init enqueues the contest/users/tasks bootstrap PUTs ScoringService.py
// sends once at startup, against every endpoint.
func (c *RankingClient) Init(contestID, contestName string, begin, end time.Time, users []RankingUser, tasks []RankingTask) {
	c.enqueue("init", "/contests/"+encodeID(contestName), map[string]any{
		"name":  contestName,
		"begin": begin.Unix(),
		"end":   end.Unix(),
	})
	for _, u := range users {
		c.enqueue("init", "/users/"+encodeID(u.Username), map[string]any{
			"f_name": u.FirstName,
			"l_name": u.LastName,
			"team":   nil,
		})
	}
	for _, t := range tasks {
		c.enqueue("init", "/tasks/"+encodeID(t.Name), map[string]any{
			"name":          t.Title,
			"contest":       encodeID(contestName),
			"score":         t.MaxScore,
			"extra_headers": []string{},
			"order":         t.Order,
			"short_name":    encodeID(t.Name),
		})
	}
}

// RankingUser is the subset of a Participation ranking's init needs.
type RankingUser struct {
	Username  string
	FirstName string
	LastName  string
}

// RankingTask is the subset of a Task ranking's init needs.
type RankingTask struct {
	Name     string
	Title    string
	MaxScore float64
	Order    int
}

// PutSubmission enqueues a submission's existence (spec.md §4.G:
// ScoringService.py's send_submission).
func (c *RankingClient) PutSubmission(submissionID, username, taskName string, timestamp int64) {
	c.enqueue("put_submission", "/submissions/"+encodeID(submissionID), map[string]any{
		"user": encodeID(username),
		"task": encodeID(taskName),
		"time": timestamp,
	})
}

// PutScoreChange enqueues a score update for submissionID (send_change
// with the "score" payload shape).
func (c *RankingClient) PutScoreChange(submissionID string, timestamp int64, score float64, extra string) {
	path := "/subchanges/" + encodeID(fmt.Sprintf("%ds%s", timestamp, submissionID))
	c.enqueue("put_change", path, map[string]any{
		"submission": encodeID(submissionID),
		"time":       timestamp,
		"score":      score,
		"extra":      json.RawMessage(orEmptyJSONArray(extra)),
	})
}

// PutTokenChange enqueues a token-played update for submissionID.
func (c *RankingClient) PutTokenChange(submissionID string, timestamp int64) {
	path := "/subchanges/" + encodeID(fmt.Sprintf("%dt%s", timestamp, submissionID))
	c.enqueue("put_change", path, map[string]any{
		"submission": encodeID(submissionID),
		"time":       timestamp,
		"token":      true,
	})
}

func orEmptyJSONArray(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

// PendingCount reports how many operations are still queued, for tests
// and diagnostics.
func (c *RankingClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// DrainOnce attempts every queued operation against every endpoint still
// pending for it (spec.md §4.G: "a periodic timer (~5s) drains the queue
// ... on HTTP status not in {200, 201} ... the operation is requeued and
// the endpoint is skipped for the remainder of that drain"). Operations
// that succeed against every endpoint are dropped from the queue.
func (c *RankingClient) DrainOnce(ctx context.Context) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	var remaining []*rankingOperation
	failed := make(map[int]bool) // endpoints that failed during this drain
	for _, op := range queue {
		for idx := range op.pending {
			if !op.pending[idx] || failed[idx] {
				continue
			}
			if c.send(ctx, idx, op) {
				delete(op.pending, idx)
			} else {
				failed[idx] = true
			}
		}
		if len(op.pending) > 0 {
			remaining = append(remaining, op)
		}
	}

	c.mu.Lock()
	c.queue = append(remaining, c.queue...)
	depth := len(c.queue)
	c.mu.Unlock()
	for _, ep := range c.endpoints {
		observability.SetRankingQueueDepth(ep.BaseURL, depth)
	}
}

// circuitBreakerMaxFailures/Timeout bound the per-endpoint breaker
// RankingClient.send opens once an endpoint fails this many consecutive
// drains in a row, giving a wedged ranking server ~1 minute to recover
// before send tries it again.
const (
	circuitBreakerMaxFailures = 5
	circuitBreakerTimeout     = time.Minute
)

// send attempts op against endpoints[idx], returning true on success. A
// put_change operation that fails outright is retried as create-then-PUT
// (spec.md §4.G) inside the same call via cenkalti/backoff/v4's bounded
// retry, matching the teacher's AI client's retry idiom. A per-endpoint
// circuit breaker (adapter/observability.CircuitBreaker) wraps the whole
// attempt, so a persistently unreachable endpoint is skipped outright
// instead of paying its retry budget on every queued operation.
func (c *RankingClient) send(ctx context.Context, idx int, op *rankingOperation) bool {
	ep := c.endpoints[idx]
	cb := observability.GetCircuitBreaker("ranking:"+ep.BaseURL, circuitBreakerMaxFailures, circuitBreakerTimeout)
	if cb.IsOpen() {
		c.log.Warn("ranking: circuit open, skipping endpoint", "kind", op.kind, "endpoint", ep.BaseURL)
		observability.RecordRankingPost(ep.BaseURL, "circuit_open")
		return false
	}

	body, err := json.Marshal(op.payload)
	if err != nil {
		c.log.Error("ranking: marshal payload failed", "kind", op.kind, "error", err)
		return true // a payload that will never marshal shouldn't wedge the queue
	}

	attempt := func() error {
		status, err := c.put(ctx, ep, op.path, body)
		if err != nil {
			return err
		}
		if status == 200 || status == 201 {
			return nil
		}
		if op.kind == "put_change" {
			// create-then-PUT fallback (spec.md §4.G): the idempotent
			// PUT failed, likely because the resource doesn't exist
			// yet at this endpoint, so create it directly.
			createStatus, err := c.post(ctx, ep, op.path, body)
			if err != nil {
				return err
			}
			if createStatus == 200 || createStatus == 201 {
				return nil
			}
			return fmt.Errorf("scoring: ranking create-then-put status %d for %s", createStatus, op.path)
		}
		return fmt.Errorf("scoring: ranking status %d for %s %s", status, op.kind, op.path)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err = cb.Call(func() error {
		return backoff.Retry(attempt, backoff.WithContext(bo, ctx))
	})
	if err != nil {
		c.log.Warn("ranking: operation failed, will retry next drain", "kind", op.kind, "path", op.path, "endpoint", ep.BaseURL, "error", err)
		observability.RecordRankingPost(ep.BaseURL, "error")
		return false
	}
	observability.RecordRankingPost(ep.BaseURL, "ok")
	return true
}

func (c *RankingClient) put(ctx context.Context, ep RankingEndpoint, path string, body []byte) (int, error) {
	return c.do(ctx, http.MethodPut, ep, path, body)
}

func (c *RankingClient) post(ctx context.Context, ep RankingEndpoint, path string, body []byte) (int, error) {
	return c.do(ctx, http.MethodPost, ep, path, body)
}

func (c *RankingClient) do(ctx context.Context, method string, ep RankingEndpoint, path string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, ep.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(ep.Username, ep.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
