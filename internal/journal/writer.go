package journal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klynaa/realtime/internal/clock"
	"github.com/klynaa/realtime/internal/connection"
	"github.com/klynaa/realtime/internal/protocol"
)

// ErrAlreadyStarted is returned by Start on a running writer.
var ErrAlreadyStarted = errors.New("journal writer already started")

const insertEvent = `
	INSERT INTO realtime_events (event_id, connection_id, type, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING
`

// Record is one journaled frame.
type Record struct {
	EventID      uuid.UUID
	ConnectionID connection.ConnectionID
	Type         string
	Payload      json.RawMessage
	ReceivedAt   time.Time
}

// Config configures the writer.
type Config struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits before being written
	BufferSize    int           // Max queued rows; further events are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Stats counts writer activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Dropped   int64
	Flushes   int64
}

// Recorder receives writer activity for metrics.
type Recorder interface {
	JournalFlushed(inserted, conflicts int)
	JournalError()
	JournalDropped()
}

// DB is the subset of pgxpool.Pool the writer uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Option configures a Writer.
type Option func(*Writer)

// WithRecorder reports writer activity to r.
func WithRecorder(r Recorder) Option {
	return func(w *Writer) {
		w.recorder = r
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(c clock.Clock) Option {
	return func(w *Writer) {
		w.clock = c
	}
}

// Writer buffers records and writes them to realtime_events in batches.
type Writer struct {
	cfg      Config
	db       DB
	logger   *slog.Logger
	clock    clock.Clock
	recorder Recorder

	input *queue[Record]

	// Batching
	batch   []Record
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewWriter creates a writer. Zero config fields take their defaults.
func NewWriter(cfg Config, db DB, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	initial := cfg.BatchSize
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	w := &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		clock:  clock.New(),
		input:  newQueue[Record](initial, cfg.BufferSize),
		batch:  make([]Record, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handler returns a connection handler that journals message events.
func (w *Writer) Handler() connection.Handler {
	return func(ev connection.Event) {
		if ev.Name != connection.EventMessage {
			return
		}
		w.Append(ev.ConnectionID, ev.Payload)
	}
}

// Append queues a raw frame. It returns false if the frame was dropped
// because the buffer is full or the writer has stopped.
func (w *Writer) Append(id connection.ConnectionID, frame json.RawMessage) bool {
	rec := Record{
		EventID:      uuid.New(),
		ConnectionID: id,
		Payload:      append(json.RawMessage(nil), frame...),
		ReceivedAt:   w.clock.Now().UTC(),
	}
	if env, err := protocol.ParseEnvelope(frame); err == nil {
		rec.Type = env.Type
	}

	if w.input.Push(rec) {
		return true
	}

	w.statsMu.Lock()
	w.stats.Dropped++
	dropped := w.stats.Dropped
	w.statsMu.Unlock()
	if w.recorder != nil {
		w.recorder.JournalDropped()
	}
	// One warning per hundred drops keeps a full buffer from flooding the log.
	if dropped%100 == 1 {
		w.logger.Warn("journal buffer full, dropping events",
			"conn", id,
			"dropped", dropped,
		)
	}
	return false
}

// Start begins consuming records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	if w.cancel != nil {
		return ErrAlreadyStarted
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop rejects new records, drains what is queued and writes the final
// batch using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	for _, rec := range w.input.DrainTo(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, rec)
		w.batchMu.Unlock()
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// Pending reports records queued or batched but not yet written.
func (w *Writer) Pending() int {
	w.batchMu.Lock()
	n := len(w.batch)
	w.batchMu.Unlock()
	return n + w.input.Len()
}

// consumeLoop moves queued records into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Ready():
			for _, rec := range w.input.DrainTo(w.cfg.BatchSize) {
				w.handleRecord(rec)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleRecord(rec Record) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		if w.recorder != nil {
			w.recorder.JournalError()
		}
		return
	}

	inserted := len(batch) - conflicts
	w.statsMu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()
	if w.recorder != nil {
		w.recorder.JournalFlushed(inserted, conflicts)
	}

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var typ *string
		if r.Type != "" {
			typ = &r.Type
		}
		batch.Queue(insertEvent, r.EventID, string(r.ConnectionID), typ, payloadJSON(r.Payload), r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// payloadJSON returns a value the jsonb column accepts. Frames that are not
// valid JSON are stored as a JSON string.
func payloadJSON(raw json.RawMessage) string {
	if json.Valid(raw) {
		return string(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return string(quoted)
}
