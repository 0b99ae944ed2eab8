package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueDepth  = 64
)

// WebhookPayload is the JSON body sent to the configured endpoint.
type WebhookPayload struct {
	Kind       EventKind         `json:"kind"`
	ProposalID string            `json:"proposal_id,omitempty"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// WebhookDispatcher delivers Notifier events to an HTTP endpoint with a
// bounded queue, a single worker goroutine, and exponential backoff with a
// cap, HMAC-signing every body the same way a payment webhook would.
type WebhookDispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan webhookJob
	wg     sync.WaitGroup
}

type webhookJob struct {
	kind EventKind
	body []byte
}

// WebhookOption mutates dispatcher configuration.
type WebhookOption func(*WebhookDispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(d *WebhookDispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) WebhookOption {
	return func(d *WebhookDispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger overrides the logger used to report delivery failures after
// the retry budget is exhausted.
func WithLogger(logger *slog.Logger) WebhookOption {
	return func(d *WebhookDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewWebhookDispatcher constructs a dispatcher and spawns its worker
// goroutine.
func NewWebhookDispatcher(endpoint string, secret []byte, opts ...WebhookOption) (*WebhookDispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("notifier: webhook endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("notifier: webhook secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &WebhookDispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan webhookJob, defaultQueueDepth),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close cancels the dispatcher's context, which aborts any in-flight delivery
// or retry backoff, and waits for the worker to exit. Events still queued are
// not delivered.
func (d *WebhookDispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Notify implements Notifier by enqueueing the event for asynchronous
// delivery. A full queue drops the event rather than blocking the caller —
// webhook delivery is best-effort, the LogNotifier is the durable record.
func (d *WebhookDispatcher) Notify(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	payload := WebhookPayload{
		Kind:       event.Kind,
		ProposalID: event.ProposalID,
		Message:    event.Message,
		Fields:     event.Fields,
		EmittedAt:  time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("notifier: marshal webhook payload", "error", err)
		return
	}
	select {
	case d.queue <- webhookJob{kind: event.Kind, body: body}:
	default:
		d.logger.Warn("notifier: webhook queue full, dropping event", "kind", event.Kind)
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *WebhookDispatcher) process(job webhookJob) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("notifier: webhook delivery exhausted retries", "kind", job.kind, "error", err)
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *WebhookDispatcher) send(ctx context.Context, job webhookJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GovAgent-Event", string(job.kind))
	req.Header.Set("X-GovAgent-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("notifier: webhook delivery failed with status %d", resp.StatusCode)
}

func (d *WebhookDispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	if next < current {
		return maxBackoff
	}
	return next
}
