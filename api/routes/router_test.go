package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	statssvc "github.com/angelmondragon/rentescrow-backend/internal/stats"
	"github.com/angelmondragon/rentescrow-backend/internal/webhooks/onramp"
	"github.com/angelmondragon/rentescrow-backend/pkg/auth"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

const partyWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type stubStats struct{}

func (stubStats) DepositStats(context.Context) (statssvc.DepositStats, error) {
	return statssvc.DepositStats{}, nil
}

func (stubStats) DisputeStats(context.Context) (statssvc.DisputeStats, error) {
	return statssvc.DisputeStats{}, nil
}

func (stubStats) Overview(context.Context) (statssvc.Overview, error) {
	return statssvc.Overview{}, nil
}

type stubOnramp struct{ calls int }

func (s *stubOnramp) HandleEvent(context.Context, *onramp.Event) error {
	s.calls++
	return nil
}

type stubGuard struct{}

func (stubGuard) CheckAndMark(context.Context, string) (bool, error) { return false, nil }
func (stubGuard) Delete(context.Context, string) error             { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Env: "test"},
		JWT:     config.JWTConfig{Secret: "router-secret", Issuer: "rentescrow-test", ExpirationMinutes: 5},
		Webhook: config.WebhookConfig{OnrampSecret: "whsec_router", MaxBodyBytes: 1 << 16},
	}
}

func newTestRouter(t *testing.T, onrampSvc *stubOnramp) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	svcs := Services{
		Stats:       stubStats{},
		Resolver:    gateway.NewResolver(cfg.JWT, time.Hour),
		Onramp:      onrampSvc,
		OnrampGuard: stubGuard{},
	}
	return NewRouter(cfg, nil, prometheus.NewRegistry(), Probes{}, nil, svcs), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.TokenRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{Wallet: partyWallet, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthLiveIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubOnramp{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &stubOnramp{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t, &stubOnramp{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/deposits", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatsRoutesForAuthenticatedCaller(t *testing.T) {
	router, cfg := newTestRouter(t, &stubOnramp{})
	for _, path := range []string{"/api/v1/stats", "/api/v1/deposits/stats", "/api/v1/disputes/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", bearer(t, cfg, enums.TokenRoleParty))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestArbiterRoutesRejectParties(t *testing.T) {
	router, cfg := newTestRouter(t, &stubOnramp{})
	for _, action := range []string{"review", "resolve"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/disputes/"+uuid.NewString()+"/"+action, bytes.NewBufferString(`{}`))
		req.Header.Set("Authorization", bearer(t, cfg, enums.TokenRoleParty))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", action, rec.Code)
		}
	}
}

func TestOnrampWebhookBypassesAuth(t *testing.T) {
	svc := &stubOnramp{}
	router, cfg := newTestRouter(t, svc)
	payload := []byte(`{"id":"evt_router","type":"payment.completed","data":{"reference":"RD-x"}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/onramp", bytes.NewReader(payload))
	req.Header.Set(onramp.SignatureHeader, onramp.Sign(cfg.Webhook.OnrampSecret, payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected webhook to reach the service once, got %d", svc.calls)
	}
}
