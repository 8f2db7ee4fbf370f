package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// VolumeQueryRequest selects the window and, optionally, one token.
type VolumeQueryRequest struct {
	Start time.Time
	End   time.Time
	Token string
}

// DailyVolume sums the amounts that moved through escrow on one day.
type DailyVolume struct {
	Date     string          `json:"date"`
	Token    string          `json:"token"`
	Funded   decimal.Decimal `json:"funded"`
	Released decimal.Decimal `json:"released"`
	Refunded decimal.Decimal `json:"refunded"`
	PaidOut  decimal.Decimal `json:"paidOut"`
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

type VolumeQueryResponse struct {
	Volume           []DailyVolume     `json:"volume"`
	DisputesRaised   []TimeSeriesPoint `json:"disputesRaised"`
	DisputesResolved []TimeSeriesPoint `json:"disputesResolved"`
}
