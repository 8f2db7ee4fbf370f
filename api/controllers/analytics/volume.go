package analytics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/rentescrow-backend/api/responses"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

const defaultWindow = 30 * 24 * time.Hour

type Service interface {
	Volume(ctx context.Context, req types.VolumeQueryRequest) (*types.VolumeQueryResponse, error)
}

// Volume reports daily escrow throughput. start and end are RFC 3339 and
// default to the trailing 30 days.
func Volume(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		end := time.Now().UTC()
		if raw := strings.TrimSpace(query.Get("end")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "end must be RFC 3339"))
				return
			}
			end = parsed.UTC()
		}
		start := end.Add(-defaultWindow)
		if raw := strings.TrimSpace(query.Get("start")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "start must be RFC 3339"))
				return
			}
			start = parsed.UTC()
		}

		resp, err := svc.Volume(r.Context(), types.VolumeQueryRequest{
			Start: start,
			End:   end,
			Token: strings.TrimSpace(query.Get("token")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}
