package deposits

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/rentescrow-backend/api/controllers/dto"
	"github.com/angelmondragon/rentescrow-backend/api/middleware"
	"github.com/angelmondragon/rentescrow-backend/api/responses"
	"github.com/angelmondragon/rentescrow-backend/api/validators"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

const consentHeader = "X-Consent-Token"

// Create opens a deposit. The caller must be the renter or the landlord.
func Create(svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.CreateDepositRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := resolver.Authorize(callerFrom(r), &models.Deposit{Renter: req.Renter, Landlord: req.Landlord})
		deposit, err := svc.CreateDeposit(r.Context(), custody.CreateDepositInput{
			Renter:   req.Renter,
			Landlord: req.Landlord,
			Amount:   req.Amount,
			Token:    req.Token,
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.Deposit(*deposit))
	}
}

// Detail returns the deposit with its payouts and disputes. Only the parties,
// arbiters and system callers may read it.
func Detail(svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadVisible(w, r, svc, resolver, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, dto.DepositDetail(view))
	}
}

// Fund confirms funding from an on-chain transfer looked up by hash.
func Fund(funding *gateway.Funding, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depositID, err := validators.ParseUUIDParam(r, "depositId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req dto.FundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithDepositID(ctx, depositID.String())
		}
		result, err := funding.FromChain(ctx, depositID, req.TxHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"deposit":  dto.Deposit(*result.Deposit),
			"replayed": result.Replayed,
		})
	}
}

// Consent mints the caller's signed consent to a release or refund, for the
// counterparty to submit.
func Consent(svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.ConsentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, ok := loadVisible(w, r, svc, resolver, logg)
		if !ok {
			return
		}
		if view.Deposit.Status != enums.DepositStatusFunded {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInvalidTransition, "consent can only be given on a funded deposit"))
			return
		}

		grant, err := resolver.MintConsent(callerFrom(r), &view.Deposit, enums.ConsentAction(req.Action), enums.PartyRole(req.Recipient))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, grant)
	}
}

func Release(svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return moveFunds(svc, resolver, enums.ConsentActionRelease, logg)
}

func Refund(svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return moveFunds(svc, resolver, enums.ConsentActionRefund, logg)
}

func moveFunds(svc custody.Service, resolver *gateway.Resolver, action enums.ConsentAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.FundMovementRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		token := strings.TrimSpace(req.ConsentToken)
		if token == "" {
			token = strings.TrimSpace(r.Header.Get(consentHeader))
		}

		view, ok := loadVisible(w, r, svc, resolver, logg)
		if !ok {
			return
		}
		auth, err := resolver.AuthorizeFundMovement(callerFrom(r), &view.Deposit, action, token, enums.PartyRole(req.Recipient))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		var deposit *models.Deposit
		if action == enums.ConsentActionRefund {
			deposit, err = svc.Refund(ctx, view.Deposit.ID, auth)
		} else {
			deposit, err = svc.Release(ctx, view.Deposit.ID, auth)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if after, err := svc.GetDeposit(ctx, deposit.ID); err == nil {
			responses.WriteSuccess(w, dto.DepositDetail(after))
			return
		}
		responses.WriteSuccess(w, dto.DepositDetail(&custody.DepositView{Deposit: *deposit}))
	}
}

func loadVisible(w http.ResponseWriter, r *http.Request, svc custody.Service, resolver *gateway.Resolver, logg *logger.Logger) (*custody.DepositView, bool) {
	depositID, err := validators.ParseUUIDParam(r, "depositId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	view, err := svc.GetDeposit(r.Context(), depositID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	auth := resolver.Authorize(callerFrom(r), &view.Deposit)
	if !auth.IsParty() && !auth.IsArbiter() && !auth.IsSystem() {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this deposit"))
		return nil, false
	}
	return view, true
}

func callerFrom(r *http.Request) gateway.Caller {
	return gateway.Caller{
		Wallet: middleware.WalletFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}
