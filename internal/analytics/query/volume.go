package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	cloudbigquery "cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

const (
	maxWindowDays = 366

	dailyVolumeSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(occurred_at)) AS day,
  token,
  COALESCE(SUM(IF(event_type = 'deposit_funded', amount, 0)), 0) AS funded,
  COALESCE(SUM(IF(event_type = 'deposit_released', amount, 0)), 0) AS released,
  COALESCE(SUM(IF(event_type = 'deposit_refunded', amount, 0)), 0) AS refunded,
  COALESCE(SUM(IF(event_type = 'payout_settled', amount, 0)), 0) AS paid_out
FROM %s
WHERE token IS NOT NULL
  AND occurred_at BETWEEN @start AND @end%s
GROUP BY day, token
ORDER BY day ASC, token ASC
`

	disputeSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(occurred_at)) AS day,
  COUNT(*) AS value
FROM %s
WHERE event_type = @eventType
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`
)

type queryClient interface {
	Query(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (*cloudbigquery.RowIterator, error)
}

// VolumeService reports escrow throughput from the escrow_events table.
type VolumeService interface {
	Query(ctx context.Context, req types.VolumeQueryRequest) (*types.VolumeQueryResponse, error)
}

type volumeService struct {
	client   queryClient
	tableRef string
}

func NewVolumeService(client queryClient, project, dataset, table string) (VolumeService, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if project == "" || dataset == "" || table == "" {
		return nil, errors.New("project, dataset, and table are required")
	}
	return &volumeService{
		client:   client,
		tableRef: fmt.Sprintf("`%s.%s.%s`", project, dataset, table),
	}, nil
}

func (s *volumeService) Query(ctx context.Context, req types.VolumeQueryRequest) (*types.VolumeQueryResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	volumeSQL, params := s.volumeStatement(req)
	volume, err := s.queryVolume(ctx, volumeSQL, params)
	if err != nil {
		return nil, err
	}
	raised, err := s.querySeries(ctx, req, "dispute_raised")
	if err != nil {
		return nil, err
	}
	resolved, err := s.querySeries(ctx, req, "dispute_resolved")
	if err != nil {
		return nil, err
	}
	return &types.VolumeQueryResponse{Volume: volume, DisputesRaised: raised, DisputesResolved: resolved}, nil
}

// ValidateRequest checks the window is ordered and bounded.
func ValidateRequest(req types.VolumeQueryRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if req.End.Before(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	if req.End.Sub(req.Start).Hours() > maxWindowDays*24 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("window may span at most %d days", maxWindowDays))
	}
	return nil
}

func (s *volumeService) volumeStatement(req types.VolumeQueryRequest) (string, []cloudbigquery.QueryParameter) {
	params := []cloudbigquery.QueryParameter{
		{Name: "start", Value: req.Start.UTC()},
		{Name: "end", Value: req.End.UTC()},
	}
	tokenClause := ""
	if token := strings.ToUpper(strings.TrimSpace(req.Token)); token != "" {
		tokenClause = "\n  AND token = @token"
		params = append(params, cloudbigquery.QueryParameter{Name: "token", Value: token})
	}
	return fmt.Sprintf(dailyVolumeSQL, s.tableRef, tokenClause), params
}

func (s *volumeService) queryVolume(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.DailyVolume, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query escrow volume")
	}

	var out []types.DailyVolume
	for {
		var row struct {
			Day      string   `bigquery:"day"`
			Token    string   `bigquery:"token"`
			Funded   *big.Rat `bigquery:"funded"`
			Released *big.Rat `bigquery:"released"`
			Refunded *big.Rat `bigquery:"refunded"`
			PaidOut  *big.Rat `bigquery:"paid_out"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read escrow volume row")
		}
		out = append(out, types.DailyVolume{
			Date:     row.Day,
			Token:    row.Token,
			Funded:   fromRat(row.Funded),
			Released: fromRat(row.Released),
			Refunded: fromRat(row.Refunded),
			PaidOut:  fromRat(row.PaidOut),
		})
	}
	return out, nil
}

func (s *volumeService) querySeries(ctx context.Context, req types.VolumeQueryRequest, eventType string) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, fmt.Sprintf(disputeSeriesSQL, s.tableRef), []cloudbigquery.QueryParameter{
		{Name: "eventType", Value: eventType},
		{Name: "start", Value: req.Start.UTC()},
		{Name: "end", Value: req.End.UTC()},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query dispute series")
	}

	var points []types.TimeSeriesPoint
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read dispute series row")
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}

// NUMERIC carries nine fractional digits.
func fromRat(value *big.Rat) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(value, 9)
}
