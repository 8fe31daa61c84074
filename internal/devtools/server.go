package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fluxstore/internal/logging"
	"fluxstore/pkg/store"
)

var logger = logging.For("devtools")

// IdempotencyHeader names the request header carrying a client-chosen key.
// A repeated key replays the first response instead of dispatching again.
const IdempotencyHeader = "Idempotency-Key"

const (
	defaultIdempotencyTTL = 10 * time.Minute
	cleanupInterval       = time.Minute
	writeTimeout          = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

// Decoder turns a remote dispatch request into an action.
type Decoder func(kind string, payload json.RawMessage) (store.Action, error)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:7070".
	Addr string

	// RatePerSec limits POST /dispatch per remote host, with bursts of twice
	// the rate. 0 disables it.
	RatePerSec float64

	// IdempotencyTTL is how long Idempotency-Key values are remembered.
	// Default: 10 minutes.
	IdempotencyTTL time.Duration

	// Gatherer serves GET /metrics. If nil the route is not mounted.
	Gatherer prometheus.Gatherer

	// Decode builds actions for POST /dispatch. If nil, requests become
	// store.Message values carrying the raw payload.
	Decode Decoder
}

// Server serves the devtools HTTP API for one store.
type Server struct {
	opts     Options
	st       *store.Store
	rec      *Recorder
	hub      *Hub
	throttle *Throttle
	seen     *SeenCache
	upgrader websocket.Upgrader
	handler  http.Handler

	done     chan struct{}
	detach   func()
	stopOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

// NewServer builds the router and starts the event hub. rec may be nil, in
// which case /history is always empty. Stop must be called to release it.
func NewServer(st *store.Store, rec *Recorder, opts Options) *Server {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.Decode == nil {
		opts.Decode = func(kind string, payload json.RawMessage) (store.Action, error) {
			return store.Message{Type: kind, Payload: payload}, nil
		}
	}

	s := &Server{
		opts:     opts,
		st:       st,
		rec:      rec,
		hub:      NewHub(),
		throttle: NewThrottle(opts.RatePerSec),
		seen:     NewSeenCache(opts.IdempotencyTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		done: make(chan struct{}),
	}
	s.handler = s.routes()

	go s.hub.Run()
	go s.throttle.SweepLoop(s.done, cleanupInterval)
	go s.seen.CleanupLoop(s.done, cleanupInterval)
	s.detach = s.hub.Attach(st)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/state", s.handleState)
	r.Get("/state/{slice}", s.handleSlice)
	r.Get("/history", s.handleHistory)
	r.With(s.throttle.Handler).Post("/dispatch", s.handleDispatch)
	r.Get("/ws", s.handleWS)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the server socket. Call Serve to start accepting requests.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve handles requests until ctx is cancelled or Stop is called. Call
// Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return errors.New("Serve called before Listen")
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	logger.Info("devtools listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener, every websocket client and the background
// goroutines. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.detach()
		s.hub.Stop()

		s.mu.Lock()
		srv, ln := s.httpSrv, s.listener
		s.mu.Unlock()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("devtools shutdown", "err", err)
			}
		} else if ln != nil {
			_ = ln.Close()
		}
		<-s.hub.Done()
	})
}

type stateResponse struct {
	Version uint64         `json:"version"`
	State   map[string]any `json:"state"`
}

type sliceResponse struct {
	Slice   string `json:"slice"`
	Version uint64 `json:"version"`
	Value   any    `json:"value"`
}

type dispatchRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type dispatchResponse struct {
	Kind    string `json:"kind,omitempty"`
	Version uint64 `json:"version"`
	Dropped bool   `json:"dropped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sn := s.st.State()
	writeJSON(w, http.StatusOK, stateResponse{Version: sn.Version(), State: sn.Map()})
}

func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "slice")
	sn := s.st.State()
	v, ok := sn.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no slice %q", name)})
		return
	}
	writeJSON(w, http.StatusOK, sliceResponse{Slice: name, Version: sn.Version(), Value: v})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := []Entry{}
	if s.rec != nil {
		history = s.rec.History()
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyHeader)
	if key != "" {
		if resp, seen := s.seen.Check(key); seen {
			if resp == nil {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "request with this key is in progress"})
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, http.StatusOK, resp)
			return
		}
	}

	var req dispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.reject(w, key, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Kind == "" {
		s.reject(w, key, http.StatusBadRequest, errors.New("kind is required"))
		return
	}
	action, err := s.opts.Decode(req.Kind, req.Payload)
	if err != nil {
		s.reject(w, key, http.StatusBadRequest, err)
		return
	}

	out, err := s.st.DispatchContext(r.Context(), action)
	if err != nil {
		logger.Info("remote dispatch rejected", "kind", req.Kind, "err", err)
		s.reject(w, key, http.StatusUnprocessableEntity, err)
		return
	}

	body, err := json.Marshal(dispatchResponse{
		Kind:    store.KindOf(out),
		Version: s.st.State().Version(),
		Dropped: out == nil,
	})
	if err != nil {
		s.reject(w, key, http.StatusInternalServerError, err)
		return
	}
	if key != "" {
		s.seen.Remember(key, body)
	}
	writeRaw(w, http.StatusOK, body)
}

// reject answers with an error and lets the client retry under the same key.
func (s *Server) reject(w http.ResponseWriter, key string, status int, err error) {
	if key != "" {
		s.seen.Forget(key)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	c := s.hub.Join(r.RemoteAddr)
	if c == nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Leave(c)
				return
			}
		}
	}()

	sn := s.st.State()
	if s.write(conn, Event{Version: sn.Version(), State: sn.Map()}) == nil {
		for ev := range c.Send {
			if err := s.write(conn, ev); err != nil {
				logger.Debug("websocket write failed", "client", c.ID, "err", err)
				break
			}
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	<-readerDone
}

func (s *Server) write(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("encoding response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
