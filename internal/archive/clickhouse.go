package archive

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter archives risk alerts to ClickHouse asynchronously.
// Write() is non-blocking; records are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *AlertRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN enables TLS when ?secure=true is in the DSN; managed
	// ClickHouse on port 9440 requires it either way.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	if err := ensureTable(conn); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *AlertRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

func ensureTable(conn driver.Conn) error {
	return conn.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS risk_alerts (
			event_id        String,
			run_id          String,
			session_key     String,
			timestamp       DateTime64(3),
			tool_name       String,
			command_preview String,
			risk_type       LowCardinality(String),
			severity        LowCardinality(String),
			severity_score  UInt8,
			category        LowCardinality(String),
			matched         String,
			description     String
		)
		ENGINE = MergeTree
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, session_key)`)
}

// Write queues an alert record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(record *AlertRecord) {
	select {
	case w.buffer <- record:
	default:
		w.logger.Warn("clickhouse buffer full, dropping alert",
			zap.String("event_id", record.EventID),
			zap.Uint64("dropped_total", w.dropped.Add(1)),
		)
	}
}

// Dropped reports how many records were discarded against a full buffer.
func (w *ClickHouseWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close signals the flush loop to drain remaining records, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := make([]*AlertRecord, 0, flushBatch)
	flushPending := func() {
		if len(pending) > 0 {
			w.flush(pending)
			pending = pending[:0]
		}
	}

	for {
		select {
		case record := <-w.buffer:
			pending = append(pending, record)
			if len(pending) >= flushBatch {
				flushPending()
			}
		case <-ticker.C:
			flushPending()
		case <-w.done:
			w.drain(pending)
			return
		}
	}
}

// drain empties the buffer on shutdown, flushing full batches as they
// accumulate so a backlog still lands in bounded inserts. Stops when the
// buffer is empty or the drain deadline passes, whichever is first.
func (w *ClickHouseWriter) drain(pending []*AlertRecord) {
	deadline := time.After(drainTimeout)
	for {
		if len(pending) >= flushBatch {
			w.flush(pending)
			pending = pending[:0]
		}
		select {
		case record := <-w.buffer:
			pending = append(pending, record)
		case <-deadline:
			left := len(w.buffer)
			if left > 0 {
				w.logger.Warn("drain deadline passed with records unflushed",
					zap.Int("remaining", left),
				)
			}
			if len(pending) > 0 {
				w.flush(pending)
			}
			return
		default:
			if len(pending) > 0 {
				w.flush(pending)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO risk_alerts (
			event_id, run_id, session_key, timestamp,
			tool_name, command_preview,
			risk_type, severity, severity_score, category,
			matched, description
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		if err := batch.Append(
			r.EventID,
			r.RunID,
			r.SessionKey,
			r.Timestamp,
			r.ToolName,
			r.CommandPreview,
			r.RiskType,
			r.Severity,
			r.SeverityScore,
			r.Category,
			r.Matched,
			r.Description,
		); err != nil {
			w.logger.Error("clickhouse append alert failed",
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback AlertWriter for local development.
// It logs alerts as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs alerts to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(record *AlertRecord) {
	w.logger.Info("risk_alert",
		zap.String("event_id", record.EventID),
		zap.String("run_id", record.RunID),
		zap.String("session_key", record.SessionKey),
		zap.String("tool_name", record.ToolName),
		zap.String("risk_type", record.RiskType),
		zap.String("severity", record.Severity),
		zap.String("category", record.Category),
		zap.String("matched", record.Matched),
		zap.String("command_preview", record.CommandPreview),
	)
}

func (w *LogWriter) Close() {}
