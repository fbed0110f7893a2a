// Package server exposes the dashboard store over HTTP.
//
// Routes:
//
//	GET  /api/active                        active channel
//	PUT  /api/active                        switch channel
//	GET  /api/profiles/{channel}            profile state
//	PATCH /api/profiles/{channel}           apply edits, returns settled changes
//	GET  /api/profiles/{channel}/options    candidate lists
//	POST /api/profiles/{channel}/save       save through the configured saver
//	GET  /api/preview                       voice preview parameters
//	GET  /api/tab, PUT /api/tab             dashboard tab
//	GET  /api/events                        websocket stream of settled changes
//	GET  /api/history/selection             call-history bulk selection
//	POST /api/history/selection             toggle, select all, clear, take
//	GET  /api/simulator                     simulator state
//	POST /api/simulator/events              feed a simulator event
//	GET  /healthz, /readyz, /metrics
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dialdeck/internal/dashboard"
	"github.com/MrWong99/dialdeck/internal/health"
	"github.com/MrWong99/dialdeck/internal/notify"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/payload"
	"github.com/MrWong99/dialdeck/internal/simulator"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth serves h on /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus
// registry handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server routes HTTP requests to a [dashboard.Store].
type Server struct {
	store          *dashboard.Store
	bus            *notify.Bus
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	handler        http.Handler
}

// New builds the HTTP surface for store. Change events are read from bus,
// which must be the store's notifier.
func New(store *dashboard.Store, bus *notify.Bus, opts ...Option) *Server {
	s := &Server{store: store, bus: bus}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/active", s.handleGetActive)
	mux.HandleFunc("PUT /api/active", s.handlePutActive)
	mux.HandleFunc("GET /api/profiles/{channel}", tagChannel(s.handleGetProfile))
	mux.HandleFunc("PATCH /api/profiles/{channel}", tagChannel(s.handlePatchProfile))
	mux.HandleFunc("GET /api/profiles/{channel}/options", tagChannel(s.handleOptions))
	mux.HandleFunc("POST /api/profiles/{channel}/save", tagChannel(s.handleSave))
	mux.HandleFunc("GET /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/tab", s.handleGetTab)
	mux.HandleFunc("PUT /api/tab", s.handlePutTab)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/history/selection", s.handleGetSelection)
	mux.HandleFunc("POST /api/history/selection", s.handlePostSelection)
	mux.HandleFunc("GET /api/simulator", s.handleGetSimulator)
	mux.HandleFunc("POST /api/simulator/events", s.handleSimulatorEvent)

	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
}

// ── active profile ───────────────────────────────────────────────────────────

type activeBody struct {
	Channel profile.Channel `json:"channel"`
}

func (s *Server) handleGetActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, activeBody{Channel: s.store.Active()})
}

func (s *Server) handlePutActive(w http.ResponseWriter, r *http.Request) {
	var body activeBody
	if !decodeBody(w, r, &body) {
		return
	}
	ch, err := profile.ParseChannel(string(body.Channel))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetActive(r.Context(), ch); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, activeBody{Channel: ch})
}

// ── profiles ─────────────────────────────────────────────────────────────────

type profileView struct {
	Channel   profile.Channel   `json:"channel"`
	Selection profile.Selection `json:"selection"`
	Saved     profile.Selection `json:"saved"`
	Fields    map[string]any    `json:"fields"`
}

// tagChannel puts a valid {channel} path value on the request context so logs
// and spans further down carry it.
func tagChannel(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ch, err := profile.ParseChannel(r.PathValue("channel")); err == nil {
			r = r.WithContext(observe.WithChannel(r.Context(), string(ch)))
		}
		h(w, r)
	}
}

func (s *Server) channel(w http.ResponseWriter, r *http.Request) (profile.Channel, bool) {
	ch, err := profile.ParseChannel(r.PathValue("channel"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return "", false
	}
	return ch, true
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	p, err := s.store.Profile(ch)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView{
		Channel:   p.Channel,
		Selection: p.Selection,
		Saved:     p.Saved,
		Fields:    p.Fields,
	})
}

// Edit is one field assignment in a PATCH body. Edits apply in order.
type Edit struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type patchResponse struct {
	Changes []notify.Change `json:"changes"`
}

func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	var edits []Edit
	if !decodeBody(w, r, &edits) {
		return
	}

	resp := patchResponse{Changes: []notify.Change{}}
	for i, e := range edits {
		changes, err := s.store.Set(r.Context(), ch, e.Field, e.Value)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, profile.ErrUnknownChannel) {
				status = http.StatusNotFound
			}
			writeError(w, r, status, fmt.Errorf("edit %d (%s): %w", i, e.Field, err))
			return
		}
		resp.Changes = append(resp.Changes, changes...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	opts, err := s.store.Options(ch)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

type saveRequest struct {
	SyncLanguages bool `json:"syncLanguages"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.channel(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	out, err := s.store.Save(r.Context(), ch, dashboard.SaveOptions{SyncLanguages: req.SyncLanguages})
	if err != nil {
		var mj *payload.MalformedJSONError
		switch {
		case errors.As(err, &mj):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{
				Error:         err.Error(),
				Field:         mj.Field,
				CorrelationID: observe.CorrelationID(r.Context()),
			})
		case errors.Is(err, dashboard.ErrSaveInFlight):
			writeError(w, r, http.StatusConflict, err)
		case errors.Is(err, dashboard.ErrNoSaver):
			writeError(w, r, http.StatusServiceUnavailable, err)
		case errors.Is(err, profile.ErrUnknownChannel):
			writeError(w, r, http.StatusNotFound, err)
		default:
			writeError(w, r, http.StatusBadGateway, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.PreviewRequest())
}

// ── tabs ─────────────────────────────────────────────────────────────────────

type tabBody struct {
	Tab                 string `json:"tab"`
	ConnectivityVisible bool   `json:"connectivityVisible"`
}

func (s *Server) tabView() tabBody {
	return tabBody{
		Tab:                 s.store.Tab(),
		ConnectivityVisible: s.store.ShouldShowTab(dashboard.ConnectivityTab),
	}
}

func (s *Server) handleGetTab(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tabView())
}

func (s *Server) handlePutTab(w http.ResponseWriter, r *http.Request) {
	var body tabBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !s.store.ShouldShowTab(body.Tab) {
		writeError(w, r, http.StatusConflict, fmt.Errorf("server: tab %q is not available for %s", body.Tab, s.store.Active()))
		return
	}
	s.store.SetTab(body.Tab)
	writeJSON(w, http.StatusOK, s.tabView())
}

// ── history selection ────────────────────────────────────────────────────────

// SelectionRequest is one bulk-selection operation. Exactly one action is
// applied, checked in field order.
type SelectionRequest struct {
	Toggle  *int64  `json:"toggle,omitempty"`
	Visible []int64 `json:"visible,omitempty"`
	On      bool    `json:"on,omitempty"`
	Clear   bool    `json:"clear,omitempty"`
	Take    bool    `json:"take,omitempty"`
}

type selectionView struct {
	Selected    []int64 `json:"selected"`
	DeleteLabel string  `json:"deleteLabel"`
	Taken       []int64 `json:"taken,omitempty"`
}

func (s *Server) selectionView() selectionView {
	h := s.store.History()
	return selectionView{Selected: h.Selected(), DeleteLabel: h.DeleteLabel()}
}

func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.selectionView())
}

func (s *Server) handlePostSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h := s.store.History()
	var taken []int64
	switch {
	case req.Toggle != nil:
		h.Toggle(*req.Toggle)
	case req.Visible != nil:
		h.ToggleAll(req.Visible, req.On)
	case req.Clear:
		h.Clear()
	case req.Take:
		taken = h.Take()
	default:
		writeError(w, r, http.StatusBadRequest, errors.New("server: selection request names no action"))
		return
	}
	v := s.selectionView()
	v.Taken = taken
	writeJSON(w, http.StatusOK, v)
}

// ── simulator ────────────────────────────────────────────────────────────────

func (s *Server) handleGetSimulator(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Simulator().State())
}

func (s *Server) handleSimulatorEvent(w http.ResponseWriter, r *http.Request) {
	var ev simulator.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	if err := s.store.Simulator().Apply(r.Context(), ev); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Simulator().State())
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorBody struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorBody{
		Error:         err.Error(),
		CorrelationID: observe.CorrelationID(r.Context()),
	})
}

// decodeBody decodes a JSON request body into v. On failure it writes a 400
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty request body")
		}
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("server: decode body: %w", err))
		return false
	}
	return true
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
