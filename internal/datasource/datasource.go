// Package datasource loads historical bar series from CSV or Parquet files
// through an embedded DuckDB instance.
package datasource

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
)

// DataSource provides ordered historical bars to the backtest engine.
type DataSource interface {
	// Initialize points the source at a CSV or Parquet file.
	Initialize(path string) error
	// Count returns the number of bars inside the optional time range.
	Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// LoadBars returns bars for a symbol ordered by time ascending. An empty
	// symbol loads every row.
	LoadBars(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) ([]types.Bar, error)
	// Close releases the underlying database.
	Close() error
}
