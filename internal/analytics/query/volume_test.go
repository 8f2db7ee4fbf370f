package query

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

type nopClient struct{}

func (nopClient) Query(context.Context, string, []cloudbigquery.QueryParameter) (*cloudbigquery.RowIterator, error) {
	return nil, nil
}

func TestValidateRequest(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		req  types.VolumeQueryRequest
		ok   bool
	}{
		{"missing", types.VolumeQueryRequest{}, false},
		{"reversed", types.VolumeQueryRequest{Start: start, End: start.Add(-time.Hour)}, false},
		{"too wide", types.VolumeQueryRequest{Start: start, End: start.AddDate(2, 0, 0)}, false},
		{"ok", types.VolumeQueryRequest{Start: start, End: start.AddDate(0, 1, 0)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.ok && pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestVolumeStatementFiltersToken(t *testing.T) {
	svc, err := NewVolumeService(nopClient{}, "proj", "rentescrow", "escrow_events")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	vs := svc.(*volumeService)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sql, params := vs.volumeStatement(types.VolumeQueryRequest{Start: start, End: start.Add(24 * time.Hour), Token: " usdc "})
	if !strings.Contains(sql, "`proj.rentescrow.escrow_events`") || !strings.Contains(sql, "AND token = @token") {
		t.Fatalf("unexpected sql %s", sql)
	}
	if len(params) != 3 || params[2].Value != "USDC" {
		t.Fatalf("unexpected params %+v", params)
	}

	sql, params = vs.volumeStatement(types.VolumeQueryRequest{Start: start, End: start.Add(24 * time.Hour)})
	if strings.Contains(sql, "@token") || len(params) != 2 {
		t.Fatalf("token filter should be absent: %s %+v", sql, params)
	}
}

func TestNewVolumeServiceValidation(t *testing.T) {
	if _, err := NewVolumeService(nil, "p", "d", "t"); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewVolumeService(nopClient{}, "p", "", "t"); err == nil {
		t.Fatal("expected error without dataset")
	}
}

func TestFromRat(t *testing.T) {
	if got := fromRat(nil); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := fromRat(big.NewRat(2501, 2)); got.String() != "1250.5" {
		t.Fatalf("unexpected decimal %s", got)
	}
}
