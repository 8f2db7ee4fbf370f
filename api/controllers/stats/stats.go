package stats

import (
	"context"
	"net/http"

	"github.com/angelmondragon/rentescrow-backend/api/responses"
	statssvc "github.com/angelmondragon/rentescrow-backend/internal/stats"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

// Reader is the read side of the stats aggregator.
type Reader interface {
	DepositStats(ctx context.Context) (statssvc.DepositStats, error)
	DisputeStats(ctx context.Context) (statssvc.DisputeStats, error)
	Overview(ctx context.Context) (statssvc.Overview, error)
}

func Deposits(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.DepositStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func Disputes(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.DisputeStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func Overview(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.Overview(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
