// Package db mirrors the pipeline's window artifacts into PostgreSQL so that
// flagged counterparties can be queried across windows.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/wager-engine/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works without the
// source tree.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore writes the results of one service.
type PostgresStore struct {
	pool    *pgxpool.Pool
	service string
	log     *slog.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr, service string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log = log.With("component", "postgres")
	log.Info("connected to PostgreSQL result store", "service", service)
	return &PostgresStore{pool: pool, service: service, log: log}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.log.Info("result schema initialized")
	return nil
}

// replaceWindow deletes the window's rows from table and inserts the new ones
// in a single transaction.
func (s *PostgresStore) replaceWindow(ctx context.Context, table, window string, insert func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// table is one of the package's constant table names.
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE service = $1 AND window_label = $2", table)
	if _, err := tx.Exec(ctx, deleteSQL, s.service, window); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := insert(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveWindowMetrics replaces the metrics rows of a window.
func (s *PostgresStore) SaveWindowMetrics(ctx context.Context, interval int, window string, rows []models.CounterpartyWindowMetrics) error {
	insertSQL := `
		INSERT INTO window_metrics
			(service, window_label, interval_months, wallet_id, in_degree, out_degree,
			 total_received_sats, total_sent_sats, average_amount, net_balance,
			 time_variance, mean_time_diff, std_dev_time_diff, min_time_diff, max_time_diff)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (service, window_label, wallet_id) DO UPDATE SET
			interval_months = EXCLUDED.interval_months,
			in_degree = EXCLUDED.in_degree,
			out_degree = EXCLUDED.out_degree,
			total_received_sats = EXCLUDED.total_received_sats,
			total_sent_sats = EXCLUDED.total_sent_sats,
			average_amount = EXCLUDED.average_amount,
			net_balance = EXCLUDED.net_balance,
			time_variance = EXCLUDED.time_variance,
			mean_time_diff = EXCLUDED.mean_time_diff,
			std_dev_time_diff = EXCLUDED.std_dev_time_diff,
			min_time_diff = EXCLUDED.min_time_diff,
			max_time_diff = EXCLUDED.max_time_diff,
			computed_at = NOW();
	`
	return s.replaceWindow(ctx, "window_metrics", window, func(tx pgx.Tx) error {
		for _, row := range rows {
			received, err := models.ToSatoshis(row.TotalReceived)
			if err != nil {
				return err
			}
			sent, err := models.ToSatoshis(row.TotalSent)
			if err != nil {
				return err
			}
			var variance, mean, std, lo, hi *float64
			if t := row.Time; t != nil {
				variance, mean, std, lo, hi = &t.Variance, &t.Mean, &t.StdDev, &t.Min, &t.Max
			}
			_, err = tx.Exec(ctx, insertSQL,
				s.service, window, interval, row.Counterparty, row.InDegree, row.OutDegree,
				int64(received), int64(sent), row.AverageAmount, row.NetBalance,
				variance, mean, std, lo, hi,
			)
			if err != nil {
				return fmt.Errorf("failed to insert window metrics: %w", err)
			}
		}
		return nil
	})
}

// SaveRollingLog replaces the rolling summaries of a window.
func (s *PostgresStore) SaveRollingLog(ctx context.Context, window string, log models.RollingLog) error {
	insertSQL := `
		INSERT INTO rolling_summaries
			(service, window_label, wallet_id, n_tx, percent_low_var_windows, longest_low_var_streak,
			 mean_time_diff, std_time_diff, defined_windows, insufficient_data, verdict,
			 window_size, var_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (service, window_label, wallet_id) DO UPDATE SET
			n_tx = EXCLUDED.n_tx,
			percent_low_var_windows = EXCLUDED.percent_low_var_windows,
			longest_low_var_streak = EXCLUDED.longest_low_var_streak,
			mean_time_diff = EXCLUDED.mean_time_diff,
			std_time_diff = EXCLUDED.std_time_diff,
			defined_windows = EXCLUDED.defined_windows,
			insufficient_data = EXCLUDED.insufficient_data,
			verdict = EXCLUDED.verdict,
			window_size = EXCLUDED.window_size,
			var_threshold = EXCLUDED.var_threshold,
			computed_at = NOW();
	`
	return s.replaceWindow(ctx, "rolling_summaries", window, func(tx pgx.Tx) error {
		for _, w := range log.Wallets {
			_, err := tx.Exec(ctx, insertSQL,
				s.service, window, w.Counterparty, w.NTx, w.PercentLowVarWindows, w.LongestLowVarStreak,
				w.MeanTimeDiff, w.StdTimeDiff, w.DefinedWindows, w.InsufficientData, string(w.Verdict),
				log.WindowSize, log.VarThreshold,
			)
			if err != nil {
				return fmt.Errorf("failed to insert rolling summary: %w", err)
			}
		}
		return nil
	})
}

// SaveStrategyResults replaces the strategy results of a window. An empty
// slice clears the window.
func (s *PostgresStore) SaveStrategyResults(ctx context.Context, window string, results []models.StrategyResult) error {
	insertSQL := `
		INSERT INTO strategy_results
			(service, window_label, wallet_id, n_tx,
			 martingale_ratio, martingale_streak, martingale_flag,
			 dalembert_ratio, dalembert_streak, dalembert_flag,
			 flat_ratio, flat_streak, flat_flag, flagged, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (service, window_label, wallet_id) DO UPDATE SET
			n_tx = EXCLUDED.n_tx,
			martingale_ratio = EXCLUDED.martingale_ratio,
			martingale_streak = EXCLUDED.martingale_streak,
			martingale_flag = EXCLUDED.martingale_flag,
			dalembert_ratio = EXCLUDED.dalembert_ratio,
			dalembert_streak = EXCLUDED.dalembert_streak,
			dalembert_flag = EXCLUDED.dalembert_flag,
			flat_ratio = EXCLUDED.flat_ratio,
			flat_streak = EXCLUDED.flat_streak,
			flat_flag = EXCLUDED.flat_flag,
			flagged = EXCLUDED.flagged,
			profile = EXCLUDED.profile,
			computed_at = NOW();
	`
	return s.replaceWindow(ctx, "strategy_results", window, func(tx pgx.Tx) error {
		for _, r := range results {
			_, err := tx.Exec(ctx, insertSQL,
				s.service, window, r.Counterparty, r.NTx,
				r.Martingale.Ratio, r.Martingale.MaxStreak, r.Martingale.Flag,
				r.DAlembert.Ratio, r.DAlembert.MaxStreak, r.DAlembert.Flag,
				r.Flat.Ratio, r.Flat.MaxStreak, r.Flat.Flag, r.Flagged(), r.Profile,
			)
			if err != nil {
				return fmt.Errorf("failed to insert strategy result: %w", err)
			}
		}
		return nil
	})
}

// windowTables hold rows keyed by (service, window_label).
var windowTables = []string{"window_metrics", "rolling_summaries", "strategy_results"}

// DeleteWindow removes every row of a window in one transaction.
func (s *PostgresStore) DeleteWindow(ctx context.Context, window string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range windowTables {
		deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE service = $1 AND window_label = $2", table)
		if _, err := tx.Exec(ctx, deleteSQL, s.service, window); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("window rows deleted", "window", window)
	return nil
}

// FlaggedResult is a flagged counterparty in one window.
type FlaggedResult struct {
	Window string                `json:"window"`
	Result models.StrategyResult `json:"result"`
}

// PageBounds clamps page and limit and returns the row offset.
func PageBounds(page, limit int) (int, int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}

// FlaggedResults pages through the counterparties with at least one detector
// flag, newest window first. It also returns the total number of flagged rows.
func (s *PostgresStore) FlaggedResults(ctx context.Context, page, limit int) ([]FlaggedResult, int, error) {
	_, limit, offset := PageBounds(page, limit)

	var totalCount int
	countSQL := `SELECT COUNT(*) FROM strategy_results WHERE service = $1 AND flagged`
	if err := s.pool.QueryRow(ctx, countSQL, s.service).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT window_label, wallet_id, n_tx,
			martingale_ratio, martingale_streak, martingale_flag,
			dalembert_ratio, dalembert_streak, dalembert_flag,
			flat_ratio, flat_streak, flat_flag, profile
		FROM strategy_results
		WHERE service = $1 AND flagged
		ORDER BY window_label DESC, wallet_id
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, dataSQL, s.service, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]FlaggedResult, 0)
	for rows.Next() {
		var f FlaggedResult
		r := &f.Result
		err := rows.Scan(&f.Window, &r.Counterparty, &r.NTx,
			&r.Martingale.Ratio, &r.Martingale.MaxStreak, &r.Martingale.Flag,
			&r.DAlembert.Ratio, &r.DAlembert.MaxStreak, &r.DAlembert.Flag,
			&r.Flat.Ratio, &r.Flat.MaxStreak, &r.Flat.Flag, &r.Profile)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return out, totalCount, nil
}
