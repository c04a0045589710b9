package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/repository"
	"telegram-referral-bot/internal/service"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	NewUserID      string `json:"newUserId"`
	ReferrerID     string `json:"referrerId"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Username       string `json:"username"`
	InitDataString string `json:"initDataString"`
}

type registerResponse struct {
	Success               bool  `json:"success"`
	Credited              bool  `json:"credited"`
	ReferrerBalanceCents  int64 `json:"referrerBalanceCents"`
	ReferrerReferralCount int64 `json:"referrerReferralCount"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

type userSummary struct {
	ID            string `json:"id"`
	BalanceCents  int64  `json:"balance_cents"`
	ReferralCount int64  `json:"referral_count"`
}

type userView struct {
	ID            string    `json:"id"`
	FirstName     *string   `json:"first_name"`
	LastName      *string   `json:"last_name"`
	Username      *string   `json:"username"`
	BalanceCents  int64     `json:"balance_cents"`
	ReferralCount int64     `json:"referral_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type referralView struct {
	ID        int64     `json:"id"`
	NewUserID string    `json:"new_user_id"`
	Credited  bool      `json:"credited"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	res, err := s.referrals.Register(r.Context(), service.RegisterRequest{
		NewUserID:  req.NewUserID,
		ReferrerID: req.ReferrerID,
		Profile: model.Profile{
			FirstName: model.StringPtr(req.FirstName),
			LastName:  model.StringPtr(req.LastName),
			Username:  model.StringPtr(req.Username),
		},
		InitData: req.InitDataString,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingUserIDs):
			writeError(w, http.StatusBadRequest, "Missing newUserId or referrerId")
		case errors.Is(err, service.ErrSelfReferral):
			writeError(w, http.StatusBadRequest, "Self-referral is not allowed")
		case errors.Is(err, service.ErrInitDataInvalid):
			writeError(w, http.StatusForbidden, "initData verification failed")
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:   "Database error",
				Details: err.Error(),
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Success:               true,
		Credited:              res.Credited,
		ReferrerBalanceCents:  res.ReferrerBalanceCents,
		ReferrerReferralCount: res.ReferrerReferralCount,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Message: "User not found"})
			return
		}
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userSummary{
			ID:            user.ID,
			BalanceCents:  user.BalanceCents,
			ReferralCount: user.ReferralCount,
		},
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	users, err := s.accounts.ListUsers(r.Context(), limit)
	if err != nil {
		internalError(w, err)
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   views,
	})
}

func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.accounts.GetUserDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		internalError(w, err)
		return
	}

	referrals := make([]referralView, 0, len(detail.Referrals))
	for _, ev := range detail.Referrals {
		referrals = append(referrals, referralView{
			ID:        ev.ID,
			NewUserID: ev.NewUserID,
			Credited:  ev.Credited,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user":      toUserView(detail.User),
		"referrals": referrals,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toUserView(u *model.User) userView {
	return userView{
		ID:            u.ID,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Username:      u.Username,
		BalanceCents:  u.BalanceCents,
		ReferralCount: u.ReferralCount,
		CreatedAt:     u.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func internalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("API handler error")
	writeError(w, http.StatusInternalServerError, "Internal error")
}
