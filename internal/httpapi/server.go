package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/egressgate/internal/domain"
	"github.com/hamed0406/egressgate/internal/engine"
	apimw "github.com/hamed0406/egressgate/internal/httpapi/middleware"
	"github.com/hamed0406/egressgate/internal/metrics"
	"github.com/hamed0406/egressgate/internal/repo"
)

type DecisionSource interface {
	Snapshot() domain.Decision
}

type EngineSource interface {
	Current() *engine.Ref
}

type CandidateSource interface {
	Candidates() []domain.Candidate
}

// Lifecycle is the part of the coordinator the admin routes drive.
type Lifecycle interface {
	OnVisible(ctx context.Context) (domain.RoundID, error)
	OnHidden()
	Subscribed() bool
	DirectWorked() bool
}

type Server struct {
	Logger     *zap.Logger
	Decision   DecisionSource
	Engine     EngineSource
	Candidates CandidateSource
	Lifecycle  Lifecycle
	Journal    repo.Journal
	Metrics    *metrics.Metrics
	// Ping, when set, is part of the readiness check (database reachability).
	Ping func(ctx context.Context) error
}

func NewServer(l *zap.Logger, d DecisionSource, e EngineSource, c CandidateSource, lc Lifecycle, j repo.Journal) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l.With(zap.String("component", "httpapi")), Decision: d, Engine: e, Candidates: c, Lifecycle: lc, Journal: j}
}

func (s *Server) Router(keys apimw.Keys, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.Metrics.Handler())

	// read-only: public or admin key
	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))
		r.Get("/api/egress", s.handleEgress)
		r.Get("/api/candidates", s.handleCandidates)
		r.Get("/api/rounds/latest", s.handleLatestRound)
		r.Get("/api/outcomes", s.handleOutcomes)
		r.Get("/api/fetches", s.handleFetches)
		r.Get("/api/alerts/{key}", s.handleAlert)
	})

	// host lifecycle: admin only
	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(adminRPM, adminBurst))
		r.Use(apimw.RequireAdmin(keys))
		r.Post("/api/lifecycle/visible", s.handleVisible)
		r.Post("/api/lifecycle/hidden", s.handleHidden)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	d := s.Decision.Snapshot()
	body := map[string]any{"ready": d.Usable(), "phase": d.Phase}
	code := http.StatusOK
	if !d.Usable() {
		code = http.StatusServiceUnavailable
	}
	if s.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			body["ready"] = false
			body["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

type engineView struct {
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
}

type egressView struct {
	Decision     domain.Decision `json:"decision"`
	Ready        bool            `json:"ready"`
	Engine       *engineView     `json:"engine,omitempty"`
	Subscribed   bool            `json:"subscribed"`
	DirectWorked bool            `json:"direct_worked"`
}

func (s *Server) handleEgress(w http.ResponseWriter, r *http.Request) {
	d := s.Decision.Snapshot()
	d.WinningURL = engine.Redact(d.WinningURL)
	v := egressView{Decision: d, Ready: d.Usable()}
	if s.Engine != nil {
		if ref := s.Engine.Current(); ref != nil {
			v.Engine = &engineView{URL: engine.Redact(ref.URL), StartedAt: ref.StartedAt}
		}
	}
	if s.Lifecycle != nil {
		v.Subscribed = s.Lifecycle.Subscribed()
		v.DirectWorked = s.Lifecycle.DirectWorked()
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	cs := s.Candidates.Candidates()
	out := make([]domain.Candidate, 0, len(cs))
	for _, c := range cs {
		c.URL = engine.Redact(c.URL)
		out = append(out, c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestRound(w http.ResponseWriter, r *http.Request) {
	rr, err := s.Journal.LatestRound(r.Context())
	if err != nil {
		s.Logger.Error("latest_round", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	if rr == nil {
		writeError(w, http.StatusNotFound, "no rounds yet")
		return
	}
	out := *rr
	out.WinningURL = engine.Redact(out.WinningURL)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}
	round := domain.RoundID(r.URL.Query().Get("round"))
	outs, err := s.Journal.Outcomes(r.Context(), round, repo.ClampLimit(limit))
	if err != nil {
		s.Logger.Error("list_outcomes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	for i := range outs {
		outs[i].URL = engine.Redact(outs[i].URL)
	}
	writeJSON(w, http.StatusOK, outs)
}

func (s *Server) handleFetches(w http.ResponseWriter, r *http.Request) {
	fs, err := s.Journal.LatestFetches(r.Context())
	if err != nil {
		s.Logger.Error("list_fetches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := s.Journal.GetAlert(r.Context(), key)
	if err != nil {
		s.Logger.Error("get_alert", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no alert state")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	// the round outlives this request
	id, err := s.Lifecycle.OnVisible(context.WithoutCancel(r.Context()))
	if err != nil {
		s.Logger.Warn("on_visible", zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.Logger.Info("host_visible", zap.String("round_id", string(id)))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"round_id": id,
		"started":  id != "",
		"phase":    s.Decision.Snapshot().Phase,
	})
}

func (s *Server) handleHidden(w http.ResponseWriter, r *http.Request) {
	s.Lifecycle.OnHidden()
	s.Logger.Info("host_hidden")
	w.WriteHeader(http.StatusNoContent)
}
