package notifications

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/api/middleware"
	"github.com/angelmondragon/rentescrow-backend/api/responses"
	"github.com/angelmondragon/rentescrow-backend/api/validators"
	notifsvc "github.com/angelmondragon/rentescrow-backend/internal/notifications"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

type Service interface {
	List(ctx context.Context, params notifsvc.ListParams) (*notifsvc.ListResult, error)
	MarkRead(ctx context.Context, wallet string, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, wallet string) (int64, error)
}

type notificationResponse struct {
	ID        uuid.UUID  `json:"id"`
	DepositID uuid.UUID  `json:"depositId"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type listResponse struct {
	Items  []notificationResponse `json:"items"`
	Cursor string                 `json:"cursor"`
}

func toResponse(n models.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		DepositID: n.DepositID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// List returns the caller's notifications, newest first.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := notifsvc.ListParams{Wallet: middleware.WalletFromContext(r.Context())}
		query := r.URL.Query()

		if limitStr := strings.TrimSpace(query.Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Limit = value
		}
		params.Cursor = strings.TrimSpace(query.Get("cursor"))
		if unread := strings.TrimSpace(query.Get("unreadOnly")); unread != "" {
			value, err := strconv.ParseBool(unread)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid unreadOnly value"))
				return
			}
			params.UnreadOnly = value
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := listResponse{Items: make([]notificationResponse, 0, len(result.Items)), Cursor: result.Cursor}
		for _, n := range result.Items {
			out.Items = append(out.Items, toResponse(n))
		}
		responses.WriteSuccess(w, out)
	}
}

func MarkRead(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), middleware.WalletFromContext(r.Context()), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

func MarkAllRead(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := svc.MarkAllRead(r.Context(), middleware.WalletFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
