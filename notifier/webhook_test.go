package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond * 10)
	}
	return false
}

func TestWebhookDispatcher_SignsPayload(t *testing.T) {
	var receivedSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		require.NotEmpty(t, body)
		receivedSignature = r.Header.Get("X-GovAgent-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewWebhookDispatcher(server.URL, []byte("secret"))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Notify(context.Background(), Event{Kind: EventVoteSubmitted, ProposalID: "1", Message: "vote submitted"})

	require.True(t, waitFor(func() bool { return receivedSignature != "" }, time.Second))
	require.Contains(t, receivedSignature, "sha256=")
}

func TestWebhookDispatcher_RetriesUntilSuccess(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewWebhookDispatcher(server.URL, []byte("secret"),
		WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Notify(context.Background(), Event{Kind: EventStaleListener, Message: "listener stale"})

	require.True(t, waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second))
}

func TestWebhookDispatcher_RejectsEmptyEndpointOrSecret(t *testing.T) {
	_, err := NewWebhookDispatcher("", []byte("secret"))
	require.Error(t, err)

	_, err = NewWebhookDispatcher("http://example.com", nil)
	require.Error(t, err)
}

func TestMulti_FansOutToEveryNotifier(t *testing.T) {
	var calls int32
	counter := notifierFunc(func(ctx context.Context, event Event) {
		atomic.AddInt32(&calls, 1)
	})
	multi := Multi{Notifiers: []Notifier{counter, counter, nil}}
	multi.Notify(context.Background(), Event{Kind: EventProposalDetected})
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type notifierFunc func(ctx context.Context, event Event)

func (f notifierFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }
