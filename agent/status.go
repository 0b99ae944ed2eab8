package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"govagent/storage"
)

// StatusView is the read-only snapshot served at /status, enough for an
// operator to eyeball liveness without reading the JSON document store
// directly.
type StatusView struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
	SafeConfirmations uint64 `json:"safe_confirmations"`
	ProposalCount    int    `json:"proposal_count"`
}

// NewStatusRouter builds the read-only status/health mux named in
// SPEC_FULL.md's expansion: /healthz, /status, /metrics. It is mounted by
// `run` (daemon mode) only.
func NewStatusRouter(store *storage.Store, safeConfirmations uint64) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		cursor, err := store.LoadCursor()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ids, err := store.ListProposalIDs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		view := StatusView{
			LastScannedBlock:  cursor.LastScannedBlock,
			SafeConfirmations: safeConfirmations,
			ProposalCount:     len(ids),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ServeStatus runs the status mux on addr until ctx is cancelled,
// following the corpus's http.Server + signal-driven Shutdown shape.
func ServeStatus(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	server := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
