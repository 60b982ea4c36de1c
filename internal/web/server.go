package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/events"
)

const heartbeatInterval = 30 * time.Second

type balanceCache interface {
	Snapshot() domain.BalanceSnapshot
	Amount(asset string) string
	Status() domain.Status
	Refresh(ctx context.Context, force bool) domain.BalanceSnapshot
}

type eventSource interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

// Server exposes the balance cache over HTTP: JSON endpoints, session control,
// an SSE stream and a small HTML page.
type Server struct {
	Addr    string
	Cache   balanceCache
	Session sessionController
	Events  eventSource

	l         *zap.Logger
	heartbeat time.Duration
}

// NewServer creates a new web server instance. Session routes are served when session is not nil.
func NewServer(l *zap.Logger, addr string, cache balanceCache, session sessionController, events eventSource) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Addr: addr, Cache: cache, Session: session, Events: events, l: l, heartbeat: heartbeatInterval}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /balance", s.handleSnapshot)
	mux.HandleFunc("GET /balance/amount", s.handleAmount)
	mux.HandleFunc("GET /balance/status", s.handleStatus)
	mux.HandleFunc("POST /balance/refresh", s.handleRefresh)
	mux.HandleFunc("GET /balance/stream", s.handleBalanceStream)
	if s.Session != nil {
		mux.HandleFunc("GET /session", s.handleSession)
		mux.HandleFunc("POST /session/account", s.handleSetAccount)
		mux.HandleFunc("POST /session/plan", s.handleSetPlan)
		mux.HandleFunc("DELETE /session", s.handleClearSession)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Cache.Snapshot())
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "asset is required"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "amount": s.Cache.Amount(asset)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Cache.Status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "force must be a boolean"})
			return
		}
		force = v
	}
	s.writeJSON(w, http.StatusOK, s.Cache.Refresh(r.Context(), force))
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.Events.Subscribe()
	defer s.Events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	current := s.Cache.Snapshot()
	if err := writeEvent(w, events.Event{Kind: events.KindSnapshot, Snapshot: &current}); err != nil {
		s.l.Warn("balance stream initial snapshot", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				s.l.Warn("balance stream write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) error {
	payload, err := json.Marshal(e.Payload())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", e.Kind); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("failed to encode response", zap.Error(err))
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>balances</title>
<style>
body { font-family: ui-monospace, Menlo, monospace; background: #0f1115; color: #d7dae0; margin: 2rem; }
table { border-collapse: collapse; min-width: 22rem; }
td, th { padding: .35rem .8rem; border-bottom: 1px solid #2a2f3a; text-align: left; }
td.amount { text-align: right; }
#status.degraded { color: #e5c07b; }
#status.emergency { color: #e06c75; }
#changes li.increase, #changes li.new_asset { color: #98c379; }
#changes li.decrease, #changes li.removed { color: #e06c75; }
</style>
</head>
<body>
<h1>Balances</h1>
<p id="status">loading</p>
<table><thead><tr><th>asset</th><th>amount</th></tr></thead><tbody id="balances"></tbody></table>
<p><button id="refresh">refresh</button></p>
<h2>Changes</h2>
<ul id="changes"></ul>
<script>
function render(s) {
  const st = document.getElementById('status');
  st.className = s.status;
  st.textContent = s.source_tier + ' / ' + s.status + (s.status_detail ? ' (' + s.status_detail + ')' : '');
  const body = document.getElementById('balances');
  body.innerHTML = '';
  Object.keys(s.balances || {}).sort().forEach(function (asset) {
    const tr = document.createElement('tr');
    tr.innerHTML = '<td></td><td class="amount"></td>';
    tr.children[0].textContent = asset;
    tr.children[1].textContent = s.balances[asset];
    body.appendChild(tr);
  });
}
const es = new EventSource('/balance/stream');
es.addEventListener('snapshot', function (e) { render(JSON.parse(e.data)); });
es.addEventListener('balance_change', function (e) {
  const c = JSON.parse(e.data);
  const li = document.createElement('li');
  li.className = c.kind;
  li.textContent = c.detected_at + ' ' + c.asset + ' ' + c.kind + ' ' + c.previous_amount + ' -> ' + c.current_amount;
  document.getElementById('changes').prepend(li);
});
document.getElementById('refresh').onclick = function () {
  fetch('/balance/refresh?force=true', { method: 'POST' }).then(function (r) { return r.json(); }).then(render);
};
</script>
</body>
</html>
`
