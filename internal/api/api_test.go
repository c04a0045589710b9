package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-referral-bot/internal/config"
	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/pkg/initdata"
	"telegram-referral-bot/internal/repository"
	"telegram-referral-bot/internal/service"
)

const secret = "123456:test-token"

// memStore backs both the ledger and the account reads.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	events []*model.ReferralEvent
	err    error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*model.User)}
}

func (m *memStore) RegisterReferral(_ context.Context, in model.ReferralCredit) (*model.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	for _, ev := range m.events {
		if ev.Fingerprint == in.Fingerprint || ev.NewUserID == in.NewUserID {
			res := &model.CreditResult{Outcome: model.OutcomeAlreadyExists}
			if u, ok := m.users[in.ReferrerID]; ok {
				res.ReferrerBalanceCents = u.BalanceCents
				res.ReferrerReferralCount = u.ReferralCount
			}
			return res, nil
		}
	}

	now := time.Now()
	for _, id := range []string{in.ReferrerID, in.NewUserID} {
		if _, ok := m.users[id]; !ok {
			m.users[id] = &model.User{ID: id, CreatedAt: now}
		}
	}
	nu := m.users[in.NewUserID]
	if nu.FirstName == nil {
		nu.FirstName = in.Profile.FirstName
	}

	ref := m.users[in.ReferrerID]
	ref.BalanceCents += in.BonusCents
	ref.ReferralCount++
	m.events = append(m.events, &model.ReferralEvent{
		ID:          int64(len(m.events) + 1),
		NewUserID:   in.NewUserID,
		ReferrerID:  in.ReferrerID,
		Fingerprint: in.Fingerprint,
		Credited:    true,
		CreatedAt:   now,
	})

	return &model.CreditResult{
		Outcome:               model.OutcomeInserted,
		ReferrerBalanceCents:  ref.BalanceCents,
		ReferrerReferralCount: ref.ReferralCount,
	}, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) List(_ context.Context, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByReferrer(_ context.Context, referrerID string, _ int) ([]*model.ReferralEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ReferralEvent, 0)
	for _, ev := range m.events {
		if ev.ReferrerID == referrerID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestServer(t *testing.T, store *memStore, verifySecret, apiKey string) *Server {
	t.Helper()
	referrals := service.NewReferralService(store, nil, verifySecret, 50, time.Second)
	accounts := service.NewAccountService(store, store)
	return NewServer(config.ServerConfig{Addr: ":0"}, apiKey, referrals, accounts, fakeHealth{})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func registerBody(t *testing.T, fields map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(fields))
	return buf.String()
}

func TestRegisterAndGetUserScenario(t *testing.T) {
	srv := newTestServer(t, newMemStore(), "", "")

	code, body := do(t, srv, http.MethodPost, "/api/referral/register",
		`{"newUserId":"U1","referrerId":"R1","first_name":"Ann"}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{
		"success": true, "credited": true,
		"referrerBalanceCents": float64(50), "referrerReferralCount": float64(1),
	}, body)

	code, body = do(t, srv, http.MethodPost, "/api/referral/register",
		`{"newUserId":"U1","referrerId":"R1","first_name":"Ann"}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["credited"])
	assert.Equal(t, float64(50), body["referrerBalanceCents"])
	assert.Equal(t, float64(1), body["referrerReferralCount"])

	code, body = do(t, srv, http.MethodPost, "/api/referral/register",
		`{"newUserId":"U2","referrerId":"R1"}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["credited"])
	assert.Equal(t, float64(100), body["referrerBalanceCents"])
	assert.Equal(t, float64(2), body["referrerReferralCount"])

	code, body = do(t, srv, http.MethodGet, "/api/user/R1", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{
		"success": true,
		"user":    map[string]any{"id": "R1", "balance_cents": float64(100), "referral_count": float64(2)},
	}, body)

	code, body = do(t, srv, http.MethodGet, "/api/user/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "User not found", body["message"])
}

func TestRegisterErrors(t *testing.T) {
	srv := newTestServer(t, newMemStore(), secret, "")
	forged := initdata.Sign(map[string]string{"auth_date": "1"}, "other")

	cases := []struct {
		name  string
		body  string
		code  int
		error string
	}{
		{"invalid json", `{"newUserId":`, http.StatusBadRequest, "Invalid JSON payload"},
		{"missing ids", `{"newUserId":"U1"}`, http.StatusBadRequest, "Missing newUserId or referrerId"},
		{"self referral", `{"newUserId":"U1","referrerId":"U1"}`, http.StatusBadRequest, "Self-referral is not allowed"},
		{"bad signature", registerBody(t, map[string]string{"newUserId": "U1", "referrerId": "R1", "initDataString": forged}),
			http.StatusForbidden, "initData verification failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodPost, "/api/referral/register", tc.body, nil)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.error, body["error"])
		})
	}

	code, _ := do(t, srv, http.MethodGet, "/api/user/R1", "", nil)
	assert.Equal(t, http.StatusNotFound, code, "rejected requests must not create users")
}

func TestRegisterValidSignature(t *testing.T) {
	srv := newTestServer(t, newMemStore(), secret, "")
	signed := initdata.Sign(map[string]string{"auth_date": "1700000000", "user": `{"id":7}`}, secret)

	code, body := do(t, srv, http.MethodPost, "/api/referral/register",
		registerBody(t, map[string]string{"newUserId": "U1", "referrerId": "R1", "initDataString": signed}), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["credited"])
}

func TestRegisterStorageError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("deadlock detected")
	srv := newTestServer(t, store, "", "")

	code, body := do(t, srv, http.MethodPost, "/api/referral/register", `{"newUserId":"U1","referrerId":"R1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Database error", body["error"])
	assert.Contains(t, body["details"], "deadlock detected")
}

func TestAPIKeyGate(t *testing.T) {
	srv := newTestServer(t, newMemStore(), "", "s3cret")
	payload := `{"newUserId":"U1","referrerId":"R1"}`

	code, body := do(t, srv, http.MethodPost, "/api/referral/register", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, map[string]any{"success": false, "error": "Unauthorized"}, body)

	code, _ = do(t, srv, http.MethodPost, "/api/referral/register", payload, map[string]string{"X-API-KEY": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, srv, http.MethodPost, "/api/referral/register", payload, map[string]string{"X-API-KEY": "s3cret"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/admin/users", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// Public lookup stays open.
	code, _ = do(t, srv, http.MethodGet, "/api/user/R1", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAdminRoutes(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store, "", "")
	for _, u := range []string{"U1", "U2"} {
		code, _ := do(t, srv, http.MethodPost, "/api/referral/register", `{"newUserId":"`+u+`","referrerId":"R1"}`, nil)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := do(t, srv, http.MethodGet, "/api/admin/users?limit=2", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["users"], 2)

	code, body = do(t, srv, http.MethodGet, "/api/admin/users?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid limit", body["error"])

	code, body = do(t, srv, http.MethodGet, "/api/admin/user/R1", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "R1", body["user"].(map[string]any)["id"])
	assert.Len(t, body["referrals"], 2)

	code, body = do(t, srv, http.MethodGet, "/api/admin/user/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User not found", body["error"])
}

func TestHealthz(t *testing.T) {
	referrals := service.NewReferralService(newMemStore(), nil, "", 50, time.Second)
	accounts := service.NewAccountService(newMemStore(), newMemStore())

	ok := NewServer(config.ServerConfig{}, "", referrals, accounts, fakeHealth{})
	code, body := do(t, ok, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	down := NewServer(config.ServerConfig{}, "", referrals, accounts, fakeHealth{err: errors.New("ping failed")})
	code, _ = do(t, down, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
