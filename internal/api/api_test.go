package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"billing-api/internal/billing"
	"billing-api/internal/models"
	"billing-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memProfileStore struct {
	mu      sync.Mutex
	profile models.Profile
	history []models.CreditHistory
}

func (s *memProfileStore) Load() (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	return &p, nil
}

func (s *memProfileStore) Save(profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = *profile
	return nil
}

func (s *memProfileStore) AppendHistory(entry *models.CreditHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *memProfileStore) RecentHistory(profileID string, limit int) ([]models.CreditHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CreditHistory, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].ProfileID == profileID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T, apiKey string) (*gin.Engine, *services.CreditLedger, *billing.Sandbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	sandbox.SetNow(func() time.Time { return now })

	store := &memProfileStore{profile: models.Profile{ProfileID: "test-profile"}}
	ledger, err := services.NewCreditLedger(store, services.LedgerOptions{})
	require.NoError(t, err)

	events := services.NewEventBus()
	syncer := services.NewProfileSyncGateway(nil)
	handler := services.NewTransactionHandler(services.NewProcessedTransactionTracker(), ledger, sandbox, syncer, events)
	resolver := services.NewEntitlementResolver(sandbox, ledger, syncer, services.ResolverOptions{
		Now: func() time.Time { return now },
	})
	bonus := services.NewBonusScheduler(&memBonusStore{}, nil, ledger, syncer, events, services.BonusOptions{
		Now: func() time.Time { return now },
	})

	purchases := services.NewPurchaseCoordinator(sandbox, handler, events)
	t.Cleanup(purchases.Close)
	subscriptions := services.NewSubscriptionCoordinator(sandbox, handler, resolver, bonus, events, services.SubscriptionOptions{})
	t.Cleanup(subscriptions.Close)

	r := gin.New()
	SetupRoutes(r, &Handlers{
		Purchases:     purchases,
		Subscriptions: subscriptions,
		Ledger:        ledger,
		History:       store,
		Events:        events,
		ServiceName:   "billing-test",
	}, apiKey)
	return r, ledger, sandbox
}

type memBonusStore struct {
	mu   sync.Mutex
	last *time.Time
}

func (s *memBonusStore) Get(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *memBonusStore) Set(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &t
	return nil
}

func doJSON(t *testing.T, r *gin.Engine, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "billing-test")
}

func TestAPIKeyMiddleware(t *testing.T) {
	r, _, _ := newTestRouter(t, "secret-key")

	w := doJSON(t, r, http.MethodGet, "/api/ledger", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/ledger", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/ledger", "secret-key", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Query parameter fallback.
	req := httptest.NewRequest(http.MethodGet, "/api/ledger?api_key=secret-key", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetBalance(t *testing.T) {
	r, ledger, _ := newTestRouter(t, "")
	require.NoError(t, ledger.Increase(1500, models.CreditSourcePurchase, "tx-1", billing.ProductCredits1000))

	w := doJSON(t, r, http.MethodGet, "/api/ledger", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool            `json:"success"`
		Data    BalanceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1500, body.Data.CurrentCredits)
	assert.Equal(t, 1500, body.Data.TotalCredits)
	assert.Equal(t, "test-profile", body.Data.ProfileID)
}

func TestConsumeCredits(t *testing.T) {
	r, ledger, _ := newTestRouter(t, "")
	require.NoError(t, ledger.Increase(1000, models.CreditSourcePurchase, "tx-1", ""))

	w := doJSON(t, r, http.MethodPost, "/api/ledger/consume", "", gin.H{"amount": 400})
	require.Equal(t, http.StatusOK, w.Code)

	current, _ := ledger.Balance()
	assert.Equal(t, 600, current)

	// Over-consumption clamps at zero.
	w = doJSON(t, r, http.MethodPost, "/api/ledger/consume", "", gin.H{"amount": 5000})
	require.Equal(t, http.StatusOK, w.Code)
	current, _ = ledger.Balance()
	assert.Equal(t, 0, current)

	w = doJSON(t, r, http.MethodPost, "/api/ledger/consume", "", gin.H{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseEndpoint(t *testing.T) {
	r, ledger, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/api/purchase", "", gin.H{"product_id": billing.ProductCredits500})
	require.Equal(t, http.StatusOK, w.Code)

	current, _ := ledger.Balance()
	assert.Equal(t, 500, current)

	w = doJSON(t, r, http.MethodPost, "/api/purchase", "", gin.H{"product_id": "app.credits.bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/purchase", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionStatusEndpoint(t *testing.T) {
	r, ledger, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/api/subscription/purchase", "", gin.H{"product_id": billing.ProductPremiumWeekly})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ledger.IsPremium())

	w = doJSON(t, r, http.MethodGet, "/api/subscription/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                       `json:"success"`
		Data    SubscriptionStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.IsPremium)
	require.NotNil(t, body.Data.Subscription)
	assert.Equal(t, billing.ProductPremiumWeekly, body.Data.Subscription.ProductID)
}

func TestHistoryEndpoint(t *testing.T) {
	r, ledger, _ := newTestRouter(t, "")
	require.NoError(t, ledger.Increase(500, models.CreditSourcePurchase, "tx-1", billing.ProductCredits500))
	require.NoError(t, ledger.Consume(200))

	w := doJSON(t, r, http.MethodGet, "/api/ledger/history?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Entries []models.CreditHistory `json:"entries"`
			Count   int                    `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.Count)
	// Newest first.
	assert.Equal(t, -200, body.Data.Entries[0].Delta)

	w = doJSON(t, r, http.MethodGet, "/api/ledger/history?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestoreEndpoint(t *testing.T) {
	r, _, sandbox := newTestRouter(t, "")

	expires := time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)
	sandbox.AddEntitlement(billing.Verified(billing.Transaction{
		ID:          "tx-restore",
		ProductID:   billing.ProductPremiumYearly,
		ExpiresDate: &expires,
	}))

	w := doJSON(t, r, http.MethodPost, "/api/subscription/restore", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data SubscriptionStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.IsPremium)
}
