package deposits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/api/middleware"
	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

const (
	renterWallet   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	landlordWallet = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	strangerWallet = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
)

type stubCustody struct {
	deposit    models.Deposit
	moveErr    error
	lastAuth   *authz.Authorization
	lastAction string
}

func (s *stubCustody) CreateDeposit(context.Context, custody.CreateDepositInput) (*models.Deposit, error) {
	panic("not implemented")
}

func (s *stubCustody) GetDeposit(_ context.Context, id uuid.UUID) (*custody.DepositView, error) {
	if id != s.deposit.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
	}
	return &custody.DepositView{Deposit: s.deposit}, nil
}

func (s *stubCustody) GetByReference(context.Context, string) (*models.Deposit, error) {
	panic("not implemented")
}

func (s *stubCustody) ConfirmFunding(context.Context, uuid.UUID, custody.FundingProof) (*models.Deposit, error) {
	panic("not implemented")
}

func (s *stubCustody) FindFundedByTx(context.Context, string) (*models.Deposit, error) {
	panic("not implemented")
}

func (s *stubCustody) Release(_ context.Context, _ uuid.UUID, auth authz.Authorization) (*models.Deposit, error) {
	return s.move("release", auth)
}

func (s *stubCustody) Refund(_ context.Context, _ uuid.UUID, auth authz.Authorization) (*models.Deposit, error) {
	return s.move("refund", auth)
}

func (s *stubCustody) move(action string, auth authz.Authorization) (*models.Deposit, error) {
	s.lastAction = action
	s.lastAuth = &auth
	if s.moveErr != nil {
		return nil, s.moveErr
	}
	out := s.deposit
	out.Status = enums.DepositStatusReleased
	return &out, nil
}

func (s *stubCustody) ReleaseExpired(context.Context, time.Time, int) (int, error) {
	panic("not implemented")
}

func (s *stubCustody) MoveFunds(context.Context, *gorm.DB, *models.Deposit, []custody.Allocation, enums.PayoutKind) ([]models.Payout, error) {
	panic("not implemented")
}

func (s *stubCustody) Settle(context.Context, *models.Deposit, []models.Payout) error {
	panic("not implemented")
}

func (s *stubCustody) SettlePending(context.Context, int) (custody.SettleReport, error) {
	panic("not implemented")
}

func newStub() *stubCustody {
	return &stubCustody{deposit: models.Deposit{
		ID:        uuid.New(),
		Reference: "RD-TEST0001",
		Renter:    renterWallet,
		Landlord:  landlordWallet,
		Amount:    decimal.NewFromInt(500),
		Token:     "USDC",
		Status:    enums.DepositStatusFunded,
		Version:   2,
		CreatedAt: time.Now().UTC(),
	}}
}

func newResolver() *gateway.Resolver {
	return gateway.NewResolver(config.JWTConfig{Secret: "test-secret", Issuer: "rentescrow-test", ExpirationMinutes: 60}, time.Hour)
}

func request(method, target, body, wallet string, depositID uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("depositId", depositID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	return req.WithContext(middleware.WithCaller(ctx, wallet, enums.TokenRoleParty))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

func landlordConsent(t *testing.T, resolver *gateway.Resolver, deposit *models.Deposit, action enums.ConsentAction) string {
	t.Helper()
	grant, err := resolver.MintConsent(gateway.Caller{Wallet: landlordWallet, Role: enums.TokenRoleParty}, deposit, action, enums.PartyRoleNone)
	if err != nil {
		t.Fatalf("mint consent: %v", err)
	}
	return grant.Token
}

func TestReleaseReadsConsentTokenFromHeader(t *testing.T) {
	svc := newStub()
	resolver := newResolver()
	token := landlordConsent(t, resolver, &svc.deposit, enums.ConsentActionRelease)

	req := request(http.MethodPost, "/api/v1/deposits/x/release", "", renterWallet, svc.deposit.ID)
	req.Header.Set(consentHeader, token)
	rec := httptest.NewRecorder()

	Release(svc, resolver, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastAuth == nil || !svc.lastAuth.HasJointConsent() {
		t.Fatalf("expected joint consent, got %+v", svc.lastAuth)
	}
	if svc.lastAuth.Role != enums.PartyRoleRenter {
		t.Fatalf("expected renter actor, got %s", svc.lastAuth.Role)
	}
}

func TestRefundReadsConsentTokenFromBody(t *testing.T) {
	svc := newStub()
	resolver := newResolver()
	token := landlordConsent(t, resolver, &svc.deposit, enums.ConsentActionRefund)

	req := request(http.MethodPost, "/api/v1/deposits/x/refund", `{"consentToken":"`+token+`"}`, renterWallet, svc.deposit.ID)
	req.Header.Set(consentHeader, "ignored-when-body-has-one")
	rec := httptest.NewRecorder()

	Refund(svc, resolver, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastAction != "refund" || !svc.lastAuth.HasJointConsent() {
		t.Fatalf("expected joint refund, got %s %+v", svc.lastAction, svc.lastAuth)
	}
}

func TestReleaseRejectsConsentForOtherAction(t *testing.T) {
	svc := newStub()
	resolver := newResolver()
	token := landlordConsent(t, resolver, &svc.deposit, enums.ConsentActionRefund)

	req := request(http.MethodPost, "/api/v1/deposits/x/release", "", renterWallet, svc.deposit.ID)
	req.Header.Set(consentHeader, token)
	rec := httptest.NewRecorder()

	Release(svc, resolver, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if svc.lastAuth != nil {
		t.Fatalf("engine must not be called with a bad consent token")
	}
}

func TestReleasePassesRecipientThrough(t *testing.T) {
	svc := newStub()
	req := request(http.MethodPost, "/api/v1/deposits/x/release", `{"recipient":"renter"}`, landlordWallet, svc.deposit.ID)
	rec := httptest.NewRecorder()

	Release(svc, newResolver(), nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastAuth.Recipient != enums.PartyRoleRenter {
		t.Fatalf("expected renter recipient, got %q", svc.lastAuth.Recipient)
	}
	if svc.lastAuth.HasJointConsent() {
		t.Fatalf("a single party must not carry joint consent")
	}
}

func TestReleaseMapsInvalidTransition(t *testing.T) {
	svc := newStub()
	svc.moveErr = pkgerrors.New(pkgerrors.CodeInvalidTransition, "deposit is not funded")
	req := request(http.MethodPost, "/api/v1/deposits/x/release", "", renterWallet, svc.deposit.ID)
	rec := httptest.NewRecorder()

	Release(svc, newResolver(), nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %s", code)
	}
}

func TestDetailHidesDepositFromStrangers(t *testing.T) {
	svc := newStub()
	rec := httptest.NewRecorder()
	Detail(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodGet, "/api/v1/deposits/x", "", strangerWallet, svc.deposit.ID))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Detail(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodGet, "/api/v1/deposits/x", "", landlordWallet, svc.deposit.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for landlord, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Detail(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodGet, "/api/v1/deposits/x", "", renterWallet, uuid.New()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown deposit, got %d", rec.Code)
	}
}

func TestStrangerCannotRelease(t *testing.T) {
	svc := newStub()
	rec := httptest.NewRecorder()

	Release(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/deposits/x/release", "", strangerWallet, svc.deposit.ID))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if svc.lastAuth != nil {
		t.Fatalf("engine must not be reached")
	}
}

func TestConsentRequiresFundedDeposit(t *testing.T) {
	svc := newStub()
	svc.deposit.Status = enums.DepositStatusCreated
	rec := httptest.NewRecorder()

	Consent(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/deposits/x/consents", `{"action":"release"}`, renterWallet, svc.deposit.ID))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestConsentMintsToken(t *testing.T) {
	svc := newStub()
	rec := httptest.NewRecorder()

	Consent(svc, newResolver(), nil).ServeHTTP(rec, request(http.MethodPost, "/api/v1/deposits/x/consents", `{"action":"release"}`, renterWallet, svc.deposit.ID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Data gateway.ConsentGrant `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Token == "" || body.Data.Recipient != string(enums.PartyRoleLandlord) {
		t.Fatalf("unexpected grant %+v", body.Data)
	}
}
