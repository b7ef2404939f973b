package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/weather"
)

// PostgresWeatherRepository reads the forecast cache maintained by the
// external weather fetcher. Best-effort by contract: callers treat errors as
// "no forecast available".
type PostgresWeatherRepository struct {
	db *sql.DB
}

func NewPostgresWeatherRepository(db *sql.DB) *PostgresWeatherRepository {
	return &PostgresWeatherRepository{db: db}
}

func (r *PostgresWeatherRepository) ForecastAt(ctx context.Context, at time.Time) (*weather.Forecast, error) {
	query := `SELECT timestamp, temperature, precipitation, icon
              FROM weather
              WHERE forecast_type = 'hourly'
              ORDER BY ABS(EXTRACT(EPOCH FROM (timestamp - $1)))
              LIMIT 1`
	f := weather.Forecast{}
	err := r.db.QueryRowContext(ctx, query, at).Scan(&f.Timestamp, &f.TemperatureC, &f.PrecipitationMM, &f.Icon)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading cached forecast: %w", err)
	}
	// A cache row more than two hours away from the requested instant is
	// stale enough to be useless for a reminder.
	if f.Timestamp.Sub(at) > 2*time.Hour || at.Sub(f.Timestamp) > 2*time.Hour {
		return nil, nil
	}
	return &f, nil
}
