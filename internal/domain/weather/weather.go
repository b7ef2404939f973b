package weather

import (
	"context"
	"time"
)

// Forecast is one cached forecast row, written by the external weather
// fetcher and only read here.
type Forecast struct {
	Timestamp       time.Time
	TemperatureC    float64
	PrecipitationMM float64
	Icon            string
}

// Source provides best-effort forecast enrichment for notification content.
// A nil forecast or an error must never block a delivery batch.
type Source interface {
	// ForecastAt returns the cached forecast nearest to the given instant,
	// or nil when none is cached.
	ForecastAt(ctx context.Context, at time.Time) (*Forecast, error)
}
