package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

type sessionController interface {
	Account() (domain.Account, bool)
	SetAccount(acc domain.Account)
	SetPlanTier(tier domain.PlanTier)
	ClearAccount()
}

type sessionView struct {
	Active  bool           `json:"active"`
	Account domain.Account `json:"account"`
}

type accountRequest struct {
	ID       string `json:"id"`
	Network  string `json:"network"`
	PlanTier string `json:"plan_tier"`
}

type planRequest struct {
	PlanTier string `json:"plan_tier"`
}

// parsePlan accepts an empty name as basic and rejects unknown names.
func parsePlan(raw string) (domain.PlanTier, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.PlanBasic, true
	}
	tier := domain.PlanTier(strings.ToLower(raw))
	return tier, tier.IsValid()
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	acc, ok := s.Session.Account()
	s.writeJSON(w, http.StatusOK, sessionView{Active: ok, Account: acc})
}

// handleSetAccount activates an account and answers with its first snapshot.
func (s *Server) handleSetAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	acc := domain.Account{
		ID:      strings.TrimSpace(req.ID),
		Network: strings.ToLower(strings.TrimSpace(req.Network)),
	}
	if acc.ID == "" || acc.Network == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and network are required"})
		return
	}
	tier, ok := parsePlan(req.PlanTier)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown plan_tier"})
		return
	}
	acc.PlanTier = tier

	s.Session.SetAccount(acc)
	s.l.Info("session account set over http", zap.String("account", acc.ID), zap.String("network", acc.Network))

	s.writeJSON(w, http.StatusOK, s.Cache.Refresh(r.Context(), false))
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	tier, ok := parsePlan(req.PlanTier)
	if !ok || strings.TrimSpace(req.PlanTier) == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown plan_tier"})
		return
	}
	if _, active := s.Session.Account(); !active {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "no active account"})
		return
	}

	s.Session.SetPlanTier(tier)

	acc, active := s.Session.Account()
	s.writeJSON(w, http.StatusOK, sessionView{Active: active, Account: acc})
}

func (s *Server) handleClearSession(w http.ResponseWriter, _ *http.Request) {
	s.Session.ClearAccount()
	w.WriteHeader(http.StatusNoContent)
}
