// Package analytics streams escrow events into BigQuery and reports escrow
// throughput back out of it.
package analytics

import (
	"context"
	"errors"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/query"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	"github.com/angelmondragon/rentescrow-backend/pkg/bigquery"
)

// Service provides escrow analytics reports.
type Service interface {
	// Volume returns daily escrow throughput for the requested window.
	Volume(ctx context.Context, req types.VolumeQueryRequest) (*types.VolumeQueryResponse, error)
}

type service struct {
	volume query.VolumeService
}

// NewService builds an analytics service backed by BigQuery.
func NewService(client *bigquery.Client, project, dataset, table string) (Service, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	volume, err := query.NewVolumeService(client, project, dataset, table)
	if err != nil {
		return nil, err
	}
	return &service{volume: volume}, nil
}

func (s *service) Volume(ctx context.Context, req types.VolumeQueryRequest) (*types.VolumeQueryResponse, error) {
	return s.volume.Query(ctx, req)
}
