// Package journal persists every fill of a backtest run into DuckDB so
// trades can be inspected with SQL and exported to Parquet or CSV.
package journal

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/quantforge/backsim/internal/logger"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

type Journal struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewJournal opens a journal database at path; an empty path keeps the
// journal in memory.
func NewJournal(path string, log *logger.Logger) (*Journal, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "failed to open journal database", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	journal := &Journal{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}

	if err := journal.createTables(); err != nil {
		db.Close()

		return nil, err
	}

	return journal, nil
}

func (j *Journal) createTables() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR PRIMARY KEY,
			symbol VARCHAR,
			side VARCHAR,
			quantity DOUBLE,
			price DOUBLE,
			timestamp TIMESTAMP,
			fee DOUBLE,
			total_value DOUBLE,
			reason VARCHAR
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to create trades table", err)
	}

	return nil
}

// RecordTrade appends one fill to the journal.
func (j *Journal) RecordTrade(trade types.SimulatedTrade) error {
	query, args, err := j.sq.
		Insert("trades").
		Columns("id", "symbol", "side", "quantity", "price", "timestamp", "fee", "total_value", "reason").
		Values(trade.ID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price,
			trade.Timestamp, trade.Fee, trade.TotalValue, string(trade.Reason)).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to build trade insert", err)
	}

	if _, err := j.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeJournalFailed, "failed to insert trade", err)
	}

	j.logger.Debug("trade journaled",
		zap.String("id", trade.ID),
		zap.String("side", string(trade.Side)),
		zap.Float64("price", trade.Price))

	return nil
}

// Trades returns every journaled fill ordered by execution time.
func (j *Journal) Trades() ([]types.SimulatedTrade, error) {
	query, args, err := j.sq.
		Select("id", "symbol", "side", "quantity", "price", "timestamp", "fee", "total_value", "reason").
		From("trades").
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "failed to build trades query", err)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "trades query failed", err)
	}
	defer rows.Close()

	var trades []types.SimulatedTrade

	for rows.Next() {
		var (
			trade        types.SimulatedTrade
			side, reason string
		)

		if err := rows.Scan(&trade.ID, &trade.Symbol, &side, &trade.Quantity, &trade.Price,
			&trade.Timestamp, &trade.Fee, &trade.TotalValue, &reason); err != nil {
			return nil, errors.Wrap(errors.ErrCodeJournalFailed, "failed to scan trade", err)
		}

		trade.Side = types.PurchaseType(side)
		trade.Reason = types.TradeReason(reason)
		trade.Timestamp = trade.Timestamp.UTC()
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeJournalFailed, "trades query failed", err)
	}

	return trades, nil
}

// ExportParquet writes the trades table to a Parquet file.
func (j *Journal) ExportParquet(path string) error {
	return j.export(path, "PARQUET")
}

// ExportCSV writes the trades table to a CSV file with header.
func (j *Journal) ExportCSV(path string) error {
	return j.export(path, "CSV, HEADER")
}

func (j *Journal) export(path, format string) error {
	// COPY takes no placeholders, so the path is inlined.
	query := fmt.Sprintf(`COPY (SELECT * FROM trades ORDER BY timestamp ASC) TO '%s' (FORMAT %s);`,
		strings.ReplaceAll(path, "'", "''"), format)

	if _, err := j.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeResultExportFailed, err, "failed to export trades to %s", path)
	}

	return nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
