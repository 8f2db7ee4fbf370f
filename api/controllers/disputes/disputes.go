package disputes

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/api/controllers/dto"
	"github.com/angelmondragon/rentescrow-backend/api/middleware"
	"github.com/angelmondragon/rentescrow-backend/api/responses"
	"github.com/angelmondragon/rentescrow-backend/api/validators"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	internaldisputes "github.com/angelmondragon/rentescrow-backend/internal/disputes"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

type depositReader interface {
	GetDeposit(ctx context.Context, id uuid.UUID) (*custody.DepositView, error)
}

// Raise opens a dispute on a funded deposit on behalf of the renter or landlord.
func Raise(svc internaldisputes.Service, deposits depositReader, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.RaiseDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithDepositID(ctx, req.DepositID.String())
		}

		view, err := deposits.GetDeposit(ctx, req.DepositID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		auth := resolver.Authorize(callerFrom(r), &view.Deposit)
		dispute, err := svc.RaiseDispute(ctx, req.DepositID, auth, req.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.Dispute(*dispute))
	}
}

// Detail is readable by the deposit's parties, arbiters and system callers.
func Detail(svc internaldisputes.Service, deposits depositReader, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := svc.Get(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := deposits.GetDeposit(r.Context(), dispute.DepositID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		auth := resolver.Authorize(callerFrom(r), &view.Deposit)
		if !auth.IsParty() && !auth.IsArbiter() && !auth.IsSystem() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this dispute"))
			return
		}
		responses.WriteSuccess(w, dto.Dispute(*dispute))
	}
}

// BeginReview assigns the calling arbiter.
func BeginReview(svc internaldisputes.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithDisputeID(ctx, disputeID.String())
		}
		dispute, err := svc.BeginReview(ctx, disputeID, resolver.Authorize(callerFrom(r), nil))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.Dispute(*dispute))
	}
}

// Resolve settles a dispute under review and pays out the shares.
func Resolve(svc internaldisputes.Service, resolver *gateway.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req dto.ResolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithDisputeID(ctx, disputeID.String())
		}

		outcome, err := svc.Resolve(ctx, disputeID, internaldisputes.Resolution{
			Outcome:       enums.ResolutionOutcome(req.Outcome),
			RenterShare:   req.RenterShare,
			LandlordShare: req.LandlordShare,
		}, resolver.Authorize(callerFrom(r), nil))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.ResolutionResponse{
			Dispute: dto.Dispute(outcome.Dispute),
			Deposit: dto.Deposit(outcome.Deposit),
			Payouts: dto.Payouts(outcome.Payouts),
		})
	}
}

func callerFrom(r *http.Request) gateway.Caller {
	return gateway.Caller{
		Wallet: middleware.WalletFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}
