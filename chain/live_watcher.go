package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nhooyr.io/websocket"
)

// HeadWatcher maintains a best-effort ws(s) subscription to newHeads and
// emits a signal on Heads each time a new block arrives. It exists purely
// to shorten the scheduler's reaction latency between a block landing and
// the next poll: EthAdapter.PollLogs via FilterLogs over a safe-confirmed
// range remains the only source of truth for what proposals exist, so a
// missed or stale notification here never causes a missed or duplicated
// proposal — it only makes the next tick happen sooner. This keeps the
// single reorg-safe polling code path from spec section 4.2 intact while
// still giving a ws(s) endpoint something real to do.
type HeadWatcher struct {
	endpoint string
	heads    chan struct{}
}

// NewHeadWatcher returns a watcher for a ws(s):// JSON-RPC endpoint. It does
// not dial until Run is called.
func NewHeadWatcher(endpoint string) *HeadWatcher {
	return &HeadWatcher{endpoint: endpoint, heads: make(chan struct{}, 1)}
}

// Heads signals (non-blocking, coalesced) every time a new head notification
// arrives. Callers select on it alongside their normal poll ticker.
func (w *HeadWatcher) Heads() <-chan struct{} {
	return w.heads
}

// Run dials endpoint and reads newHeads notifications until ctx is
// cancelled, reconnecting with a fixed backoff on any read/dial error. Run
// blocks; call it from its own goroutine.
func (w *HeadWatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.runOnce(ctx); err != nil && ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

type subscribeRequest struct {
	ID     int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type subscriptionNotification struct {
	Method string `json:"method"`
}

func (w *HeadWatcher) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("chain: dial head watcher %s: %w", w.endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	req, err := json.Marshal(subscribeRequest{ID: 1, Method: "eth_subscribe", Params: []string{"newHeads"}})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return fmt.Errorf("chain: subscribe newHeads: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("chain: read head watcher notification: %w", err)
		}
		var note subscriptionNotification
		if err := json.Unmarshal(data, &note); err != nil || note.Method != "eth_subscription" {
			continue
		}
		select {
		case w.heads <- struct{}{}:
		default:
		}
	}
}
