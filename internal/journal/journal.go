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
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kb-realtime/internal/connection"
	"github.com/rickgao/kb-realtime/internal/queue"
)

// DB is the subset of *pgxpool.Pool the journal needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds journal batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Event is one archived application frame.
type Event struct {
	ID         uuid.UUID
	ConnID     string
	Type       string
	Body       json.RawMessage
	ReceivedAt time.Time
}

// Stats contains journal counters.
type Stats struct {
	Recorded  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Queued    int
}

// Journal batches frames into the realtime_events table.
type Journal struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	input  *queue.Queue[Event]

	batch   []Event
	batchMu sync.Mutex
	metrics Stats

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Journal. Pass nil logger for default.
func New(cfg Config, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  queue.New[Event](cfg.BatchSize, cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// Start begins consuming recorded frames and writing them to the database.
func (j *Journal) Start(ctx context.Context) error {
	if j.group != nil {
		return errors.New("journal already started")
	}

	ctx, j.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	j.group = g

	g.Go(func() error { return j.consumeLoop(gctx) })
	g.Go(func() error { return j.flushLoop(gctx) })

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the loops and writes whatever is still queued using ctx.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	j.input.Close()
	if j.cancel != nil {
		j.cancel()
	}

	if j.group != nil {
		done := make(chan error, 1)
		go func() { done <- j.group.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				j.logger.Warn("journal loop failed", "error", err)
			}
		case <-ctx.Done():
			j.logger.Warn("journal stop timed out")
		}
	}

	// Final flush
	j.take(j.input.Drain(0))
	err := j.flush(ctx)

	j.logger.Info("journal stopped", "inserts", j.Stats().Inserts)
	return err
}

// Record queues an application frame received on connID. Control frames
// and frames arriving after Stop are not recorded.
func (j *Journal) Record(connID string, fr connection.Frame) bool {
	if fr.IsControl() {
		return false
	}

	ok := j.input.Push(Event{
		ID:         uuid.New(),
		ConnID:     connID,
		Type:       fr.Event,
		Body:       fr.Body,
		ReceivedAt: time.Now().UTC(),
	})

	j.batchMu.Lock()
	if ok {
		j.metrics.Recorded++
	} else {
		j.metrics.Dropped++
	}
	j.batchMu.Unlock()
	return ok
}

// Recorder returns an OnMessage callback that records frames for connID.
func (j *Journal) Recorder(connID string) func(connection.Frame) {
	return func(fr connection.Frame) {
		j.Record(connID, fr)
	}
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	s := j.metrics
	s.Queued = j.input.Len() + len(j.batch)
	return s
}

// consumeLoop moves queued events into the pending batch.
func (j *Journal) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-j.input.Ready():
			if j.take(j.input.Drain(j.cfg.BatchSize)) {
				j.flush(context.WithoutCancel(ctx))
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.flush(context.WithoutCancel(ctx))
		}
	}
}

// take appends events to the batch and reports whether it is full.
func (j *Journal) take(events []Event) bool {
	if len(events) == 0 {
		return false
	}
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	j.batch = append(j.batch, events...)
	return len(j.batch) >= j.cfg.BatchSize
}

// flush writes the current batch to the database. In-flight writes from
// the loops are not cancelled by Stop.
func (j *Journal) flush(ctx context.Context) error {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]Event, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return err
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

const insertEvent = `
	INSERT INTO realtime_events (event_id, conn_id, event_type, body, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING`

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(insertEvent, e.ID, e.ConnID, e.Type, string(e.Body), e.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
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
