package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

// SQLiteConfig defines operational parameters of the SQLite pool.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second, MaxOpenConns: 4}
}

// OpenSQLite opens a WAL-mode SQLite pool. The PRAGMAs are carried in the
// DSN so they apply to every pooled connection.
func OpenSQLite(path string, cfg SQLiteConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS operators (
	operator_id TEXT PRIMARY KEY,
	chat_handle TEXT NOT NULL,
	first_name  TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS plots (
	plot_id      TEXT PRIMARY KEY,
	operator_id  TEXT NOT NULL REFERENCES operators(operator_id),
	name         TEXT NOT NULL DEFAULT '',
	device_class TEXT NOT NULL,
	area         REAL NOT NULL,
	ie           REAL NOT NULL,
	wa           REAL NOT NULL,
	irrigation   INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS irrigation_records (
	plot_id     TEXT NOT NULL REFERENCES plots(plot_id),
	date        TEXT NOT NULL,
	required_mm REAL NOT NULL,
	applied_mm  REAL,
	applied_at  TEXT,
	phic        REAL,
	phit        REAL,
	PRIMARY KEY (plot_id, date)
);
`

const selectContext = `
SELECT p.plot_id, p.operator_id, o.chat_handle, o.first_name, p.name,
       p.device_class, p.area, p.ie, p.wa, r.required_mm
FROM irrigation_records r
JOIN plots p ON p.plot_id = r.plot_id
JOIN operators o ON o.operator_id = p.operator_id
WHERE p.irrigation = 1`

// SQLGateway implements IrrigationGateway over the relational store.
type SQLGateway struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewSQLGateway(db *sql.DB) *SQLGateway {
	return &SQLGateway{db: db, logger: log.WithComponent("persistence.sqlite"), now: time.Now}
}

// Ping checks the database is reachable.
func (g *SQLGateway) Ping(ctx context.Context) error { return g.db.PingContext(ctx) }

// Migrate creates the tables if they do not exist.
func (g *SQLGateway) Migrate(ctx context.Context) error {
	if _, err := g.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (g *SQLGateway) FetchRequirement(ctx context.Context, plotID string, date time.Time) (model.PlotContext, error) {
	row := g.db.QueryRowContext(ctx, selectContext+` AND r.plot_id = ? AND r.date = ?`, plotID, DayKey(date))
	pc, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlotContext{}, fmt.Errorf("plot %s on %s: %w", plotID, DayKey(date), ErrNotFound)
	}
	if err != nil {
		return model.PlotContext{}, unavailable("fetch requirement", err)
	}
	return pc, nil
}

func (g *SQLGateway) AlreadyApplied(ctx context.Context, plotID string, date time.Time) (bool, error) {
	var applied sql.NullFloat64
	err := g.db.QueryRowContext(ctx,
		`SELECT applied_mm FROM irrigation_records WHERE plot_id = ? AND date = ?`,
		plotID, DayKey(date)).Scan(&applied)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("already applied", err)
	}
	return applied.Valid && applied.Float64 > 0, nil
}

// PersistApplied relies on the conditional UPDATE for exactly-once: only a
// row whose applied depth is still 0/NULL is written.
func (g *SQLGateway) PersistApplied(ctx context.Context, plotID string, date time.Time, depthMM float64) error {
	if depthMM <= 0 {
		return fmt.Errorf("persist applied: depth must be positive, got %.3f", depthMM)
	}
	day := DayKey(date)
	res, err := g.db.ExecContext(ctx, `
UPDATE irrigation_records SET applied_mm = ?, applied_at = ?
WHERE plot_id = ? AND date = ? AND (applied_mm IS NULL OR applied_mm = 0)`,
		depthMM, g.now().UTC().Format(time.RFC3339), plotID, day)
	if err != nil {
		return unavailable("persist applied", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("persist applied", err)
	}
	if n == 1 {
		g.logger.Info().Str("plot_id", plotID).Str("date", day).Float64("applied_mm", depthMM).Msg("applied depth recorded")
		return nil
	}

	var exists int
	err = g.db.QueryRowContext(ctx, `SELECT 1 FROM irrigation_records WHERE plot_id = ? AND date = ?`, plotID, day).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("plot %s on %s: %w", plotID, day, ErrNotFound)
	}
	if err != nil {
		return unavailable("persist applied", err)
	}
	return fmt.Errorf("plot %s on %s: %w", plotID, day, ErrConflict)
}

func (g *SQLGateway) ListEligible(ctx context.Context, date time.Time) ([]model.PlotContext, error) {
	rows, err := g.db.QueryContext(ctx, selectContext+`
  AND r.date = ?
  AND (r.applied_mm IS NULL OR r.applied_mm = 0)
  AND (r.phic IS NULL OR r.phit IS NULL OR r.phic < r.phit)
ORDER BY p.operator_id, p.plot_id`, DayKey(date))
	if err != nil {
		return nil, unavailable("list eligible", err)
	}
	defer rows.Close()

	var out []model.PlotContext
	for rows.Next() {
		pc, err := scanContext(rows)
		if err != nil {
			g.logger.Warn().Err(err).Msg("skipping malformed plot row")
			continue
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list eligible", err)
	}
	return out, nil
}

// Operator / plot / requirement upserts used by provisioning and tests.

func (g *SQLGateway) UpsertOperator(ctx context.Context, operatorID, chatHandle, firstName string) error {
	_, err := g.db.ExecContext(ctx, `
INSERT INTO operators (operator_id, chat_handle, first_name) VALUES (?, ?, ?)
ON CONFLICT(operator_id) DO UPDATE SET chat_handle = excluded.chat_handle, first_name = excluded.first_name`,
		operatorID, chatHandle, firstName)
	return err
}

func (g *SQLGateway) UpsertPlot(ctx context.Context, pc model.PlotContext, enrolled bool) error {
	flag := 0
	if enrolled {
		flag = 1
	}
	_, err := g.db.ExecContext(ctx, `
INSERT INTO plots (plot_id, operator_id, name, device_class, area, ie, wa, irrigation) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(plot_id) DO UPDATE SET operator_id = excluded.operator_id, name = excluded.name,
  device_class = excluded.device_class, area = excluded.area, ie = excluded.ie, wa = excluded.wa,
  irrigation = excluded.irrigation`,
		pc.PlotID, pc.OperatorID, pc.DisplayName, string(pc.DeviceClass), pc.Area, pc.IE, pc.WA, flag)
	return err
}

// PutRequirement inserts the day's requirement; phic/phit may be nil.
func (g *SQLGateway) PutRequirement(ctx context.Context, plotID string, date time.Time, requiredMM float64, phic, phit *float64) error {
	_, err := g.db.ExecContext(ctx, `
INSERT INTO irrigation_records (plot_id, date, required_mm, phic, phit) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(plot_id, date) DO UPDATE SET required_mm = excluded.required_mm, phic = excluded.phic, phit = excluded.phit`,
		plotID, DayKey(date), requiredMM, phic, phit)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContext(s scanner) (model.PlotContext, error) {
	var (
		pc        model.PlotContext
		firstName string
		name      string
		class     string
	)
	if err := s.Scan(&pc.PlotID, &pc.OperatorID, &pc.ChatHandle, &firstName, &name,
		&class, &pc.Area, &pc.IE, &pc.WA, &pc.RequiredMM); err != nil {
		return model.PlotContext{}, err
	}
	dc, err := model.ParseDeviceClass(class)
	if err != nil {
		return model.PlotContext{}, err
	}
	pc.DeviceClass = dc
	pc.DisplayName = firstName
	if pc.DisplayName == "" {
		pc.DisplayName = name
	}
	if err := pc.Validate(); err != nil {
		return model.PlotContext{}, err
	}
	return pc, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
