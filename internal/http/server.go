package http

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/loggo"

	"ailearning/client/internal/model"
	"ailearning/client/internal/wallet"
)

var logger = loggo.GetLogger("ailearning.client.http")

// Lander handles the payment processor's return pages.
type Lander interface {
	Success(ctx context.Context) (wallet.LandingResult, error)
	Cancel(ctx context.Context) wallet.LandingResult
}

// Snapshot is what the client currently holds for the signed-in user.
type Snapshot struct {
	Authenticated bool                 `json:"authenticated"`
	UserID        string               `json:"user_id,omitempty"`
	Role          model.Role           `json:"role"`
	Connected     bool                 `json:"push_connected"`
	Unread        int                  `json:"unread"`
	Notifications []model.Notification `json:"notifications"`
	Progress      []model.Progress     `json:"progress"`
	Balance       *float64             `json:"balance"`
}

type SnapshotFunc func() Snapshot

type Server struct {
	landing  Lander
	snapshot SnapshotFunc
	metrics  http.Handler
}

func NewServer(landing Lander, snapshot SnapshotFunc, metrics http.Handler) *Server {
	return &Server{landing: landing, snapshot: snapshot, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.snapshot != nil {
		r.Get("/state", s.handleState)
	}

	r.Get("/wallet/top-up-success", s.handleTopUpSuccess)
	r.Get("/wallet/top-up-cancel", s.handleTopUpCancel)

	return r
}

type landingResponse struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	Redirect     string   `json:"redirect"`
	DelaySeconds int      `json:"delay_seconds"`
	Balance      *float64 `json:"balance,omitempty"`
}

// The query string is ignored: amounts the processor appends are unauthenticated.
func (s *Server) handleTopUpSuccess(w http.ResponseWriter, r *http.Request) {
	result, err := s.landing.Success(r.Context())
	status := http.StatusOK
	if err != nil {
		logger.Warningf("top-up success landing: %v", err)
		status = http.StatusBadGateway
	}
	writeLanding(w, status, result)
}

func (s *Server) handleTopUpCancel(w http.ResponseWriter, r *http.Request) {
	writeLanding(w, http.StatusOK, s.landing.Cancel(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func writeLanding(w http.ResponseWriter, status int, result wallet.LandingResult) {
	delay := delaySeconds(result.Delay)
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", delay, result.Redirect))
	writeJSON(w, status, landingResponse{
		Status:       string(result.Status),
		Message:      result.Message,
		Redirect:     result.Redirect,
		DelaySeconds: delay,
		Balance:      result.Balance,
	})
}

func delaySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
