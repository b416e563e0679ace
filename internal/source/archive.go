package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"marketdash/internal/model"
)

// Archive is a local sqlite store of every candle page fetched from upstream.
type Archive struct {
	db *sqlx.DB
}

type candleRow struct {
	Exchange string  `db:"exchange"`
	Symbol   string  `db:"symbol"`
	TF       string  `db:"tf"`
	TS       int64   `db:"ts"`
	Open     float64 `db:"open"`
	High     float64 `db:"high"`
	Low      float64 `db:"low"`
	Close    float64 `db:"close"`
	Volume   float64 `db:"volume"`
}

func (r candleRow) candle() model.Candle {
	return model.Candle{TS: r.TS, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS candles (
	exchange TEXT    NOT NULL,
	symbol   TEXT    NOT NULL,
	tf       TEXT    NOT NULL,
	ts       INTEGER NOT NULL,
	open     REAL    NOT NULL,
	high     REAL    NOT NULL,
	low      REAL    NOT NULL,
	close    REAL    NOT NULL,
	volume   REAL    NOT NULL,
	PRIMARY KEY (exchange, symbol, tf, ts)
);`

// OpenArchive opens (or creates) the archive at path. Use ":memory:" in tests.
func OpenArchive(path string) (*Archive, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// single writer; also keeps a :memory: database on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	slog.Info("[archive] opened candle archive", "path", path)
	return &Archive{db: db}, nil
}

// Save upserts candles for one exchange/symbol/timeframe in a single transaction.
func (a *Archive) Save(ctx context.Context, exchange, symbol string, tf model.Timeframe, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT OR REPLACE INTO candles (exchange, symbol, tf, ts, open, high, low, close, volume)
		VALUES (:exchange, :symbol, :tf, :ts, :open, :high, :low, :close, :volume)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		row := candleRow{
			Exchange: exchange, Symbol: symbol, TF: tf.String(), TS: c.TS,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("sqlite insert ts=%d: %w", c.TS, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Load reads up to limit stored candles with ts >= since, ascending.
// limit <= 0 means no limit.
func (a *Archive) Load(ctx context.Context, exchange, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	var rows []candleRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT exchange, symbol, tf, ts, open, high, low, close, volume
		FROM candles
		WHERE exchange = ? AND symbol = ? AND tf = ? AND ts >= ?
		ORDER BY ts ASC
		LIMIT ?`, exchange, symbol, tf.String(), since, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite load candles: %w", err)
	}
	out := make([]model.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.candle()
	}
	return out, nil
}

// Ping checks the database connection (health checks).
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the archive.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ArchiveSource writes every page fetched through it to an Archive.
// Archive failures are logged and never returned.
type ArchiveSource struct {
	src     CandleSource
	archive *Archive
}

// NewArchiveSource wraps src with a write-through archive.
func NewArchiveSource(src CandleSource, archive *Archive) *ArchiveSource {
	return &ArchiveSource{src: src, archive: archive}
}

func (s *ArchiveSource) Name() string { return s.src.Name() }

// FetchCandles implements CandleSource.
func (s *ArchiveSource) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	page, err := s.src.FetchCandles(ctx, symbol, tf, since, limit)
	if err != nil {
		return nil, err
	}
	if err := s.archive.Save(ctx, s.src.Name(), normalizeSymbol(symbol), tf, page); err != nil {
		slog.Warn("[archive] save failed", "exchange", s.src.Name(), "symbol", symbol, "tf", tf.String(), "error", err)
	}
	return page, nil
}

// OfflineSource serves candles from an Archive only. dashctl --offline uses it.
type OfflineSource struct {
	exchange string
	archive  *Archive
}

// NewOfflineSource returns a source reading exchange's archived candles.
func NewOfflineSource(exchange string, archive *Archive) *OfflineSource {
	return &OfflineSource{exchange: exchange, archive: archive}
}

func (s *OfflineSource) Name() string { return s.exchange }

// FetchCandles implements CandleSource.
func (s *OfflineSource) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	return s.archive.Load(ctx, s.exchange, normalizeSymbol(symbol), tf, since, limit)
}

// normalizeSymbol maps any accepted spelling to BASE/QUOTE so archive rows line up.
func normalizeSymbol(symbol string) string {
	inst, err := model.ParseInstrument("", symbol)
	if err != nil {
		return symbol
	}
	return inst.Pair()
}
