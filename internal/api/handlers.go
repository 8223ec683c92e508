package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/audit"
	"github.com/hanig/hani-replica/internal/bot"
	"github.com/hanig/hani-replica/internal/buildinfo"
	"github.com/hanig/hani-replica/internal/health"
	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/usage"
)

const maxBodyBytes = 1 << 20

// decisionRequest is the body of confirm and cancel.
type decisionRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in bot.Inbound
	if !s.decode(w, r, &in) {
		return
	}
	if in.UserID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}
	writeJSON(w, s.cfg.Pipeline.Handle(r.Context(), in), s.logger)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.cfg.Pipeline.Confirm)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.cfg.Pipeline.Cancel)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, userID, channelID, actionID string) bot.Reply) {
	var req decisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}
	writeJSON(w, decide(r.Context(), req.UserID, req.ChannelID, r.PathValue("id")), s.logger)
}

func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Guard == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "security guard not configured")
		return
	}
	q := r.URL.Query()
	evs := s.cfg.Guard.RecentEvents(parseIntParam(r, "limit", 100), q.Get("user_id"), security.ThreatType(q.Get("threat_type")))
	writeJSON(w, map[string]any{"events": evs, "count": len(evs)}, s.logger)
}

func (s *Server) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if s.cfg.Guard == nil || user == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}
	writeJSON(w, s.cfg.Guard.Stats(user), s.logger)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Type:   audit.EventType(q.Get("event_type")),
		UserID: q.Get("user_id"),
		Limit:  parseIntParam(r, "limit", 100),
		Offset: parseIntParam(r, "offset", 0),
	}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "since: "+err.Error())
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "until: "+err.Error())
		return
	}

	entries, err := s.cfg.Audit.Query(r.Context(), f)
	if errors.Is(err, audit.ErrNoDatabase) {
		s.errorResponse(w, http.StatusServiceUnavailable, "audit log not enabled")
		return
	}
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, map[string]any{"entries": entries, "count": len(entries)}, s.logger)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Audit.Stats(r.Context())
	if errors.Is(err, audit.ErrNoDatabase) {
		s.errorResponse(w, http.StatusServiceUnavailable, "audit log not enabled")
		return
	}
	if err != nil {
		s.logger.Error("audit stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "audit stats failed")
		return
	}
	writeJSON(w, st, s.logger)
}

// parseTime accepts RFC 3339 or a bare date; "" is the zero time.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

type statsResponse struct {
	Uptime        string                   `json:"uptime"`
	Version       string                   `json:"version"`
	Conversations map[string]any           `json:"conversations,omitempty"`
	UsageToday    *usage.Summary           `json:"usage_today,omitempty"`
	UsageByModel  map[string]usage.Summary `json:"usage_today_by_model,omitempty"`
	Subscribers   int                      `json:"event_subscribers"`
	Services      []health.Status          `json:"services,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Uptime:  buildinfo.Uptime().String(),
		Version: buildinfo.Version,
	}
	if s.cfg.Conversations != nil {
		resp.Conversations = s.cfg.Conversations.Stats()
	}
	if s.cfg.Events != nil {
		resp.Subscribers = s.cfg.Events.SubscriberCount()
	}
	if s.cfg.Health != nil {
		resp.Services = s.cfg.Health.Status()
	}
	if s.cfg.Usage != nil {
		today, err := s.cfg.Usage.Today(r.Context(), s.cfg.Location)
		if err != nil {
			s.logger.Warn("usage summary failed", "error", err)
		} else {
			resp.UsageToday = &today
			now := time.Now().In(s.cfg.Location)
			start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
			if byModel, err := s.cfg.Usage.SummaryByModel(r.Context(), start, start.AddDate(0, 0, 1)); err == nil {
				resp.UsageByModel = byModel
			}
		}
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth always answers 200 while the process serves requests.
// An unreachable dependency reports "degraded" rather than failing the
// probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.cfg.Health != nil && !s.cfg.Health.Healthy() {
		resp["status"] = "degraded"
	}
	if strings.EqualFold(r.URL.Query().Get("verbose"), "true") {
		resp["version"] = buildinfo.Version
		resp["uptime"] = buildinfo.Uptime().String()
		if s.cfg.Health != nil {
			resp["services"] = s.cfg.Health.Status()
		}
	}
	writeJSON(w, resp, s.logger)
}
