package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"authgate/internal/kv"
	"authgate/internal/models"
	"authgate/internal/store"
)

const (
	streamActivity = "activity"
	streamAudit    = "audit"

	indexLimit = 1000
	indexTTL   = 24 * time.Hour
	flushGrace = 10 * time.Second
)

// Pipeline fans events out to the document store (all events) and the
// relational audit table (row mutations), batching per (tenant, stream).
// A dedicated goroutine drains each batch so insertion order is preserved
// within a (tenant, stream) pair. Failed flushes are logged and dropped:
// back-pressure relief, not durability.
type Pipeline struct {
	activities store.ActivityStore
	auditRows  store.AuditStore
	kv         kv.Store
	lg         *zap.SugaredLogger
	batchSize  int
	timeout    time.Duration

	mu      sync.Mutex
	workers map[workerKey]*worker
	closed  bool
	wg      sync.WaitGroup
}

type workerKey struct {
	tenantID uint
	stream   string
}

type worker struct {
	p   *Pipeline
	key workerKey
	ch  chan Event
}

func NewPipeline(activities store.ActivityStore, auditRows store.AuditStore, kvStore kv.Store, lg *zap.SugaredLogger, batchSize int, timeout time.Duration) *Pipeline {
	if batchSize <= 0 {
		batchSize = 100
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Pipeline{
		activities: activities,
		auditRows:  auditRows,
		kv:         kvStore,
		lg:         lg,
		batchSize:  batchSize,
		timeout:    timeout,
		workers:    make(map[workerKey]*worker),
	}
}

// Log enqueues the event. It never blocks the caller: a full stream buffer
// drops the event with an error log.
func (p *Pipeline) Log(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	p.dispatch(workerKey{e.TenantID, streamActivity}, e)
	if e.TableName != "" {
		p.dispatch(workerKey{e.TenantID, streamAudit}, e)
	}
}

func (p *Pipeline) dispatch(key workerKey, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	w, ok := p.workers[key]
	if !ok {
		w = &worker{p: p, key: key, ch: make(chan Event, 4*p.batchSize)}
		p.workers[key] = w
		p.wg.Add(1)
		go w.run()
	}
	// The send happens under the same lock Close takes before closing the
	// channel, so it can never hit a closed channel. It never blocks either:
	// a full buffer drops the event.
	select {
	case w.ch <- e:
	default:
		p.lg.Errorw("audit stream saturated, dropping event",
			"tenant_id", key.tenantID, "stream", key.stream, "action", e.Action)
	}
}

// Close stops the workers and flushes every pending batch synchronously.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (w *worker) run() {
	defer w.p.wg.Done()
	var batch []Event
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	flush := func() {
		if len(batch) > 0 {
			w.p.flush(w.key, batch)
			batch = nil
		}
		stopTimer()
	}

	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			if w.key.stream == streamActivity {
				w.p.updateIndices(e)
			}
			if len(batch) == 0 {
				timer = time.NewTimer(w.p.timeout)
				timerC = timer.C
			}
			batch = append(batch, e)
			if len(batch) >= w.p.batchSize {
				flush()
			}
		case <-timerC:
			timer, timerC = nil, nil
			if len(batch) > 0 {
				w.p.flush(w.key, batch)
				batch = nil
			}
		}
	}
}

func (p *Pipeline) flush(key workerKey, batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushGrace)
	defer cancel()

	var err error
	switch key.stream {
	case streamActivity:
		records := make([]models.ActivityRecord, len(batch))
		for i, e := range batch {
			records[i] = models.ActivityRecord{
				UserID:    e.UserID,
				TenantID:  e.TenantID,
				Action:    e.Action,
				Details:   models.Object(e.Details),
				IPAddress: e.IPAddress,
				UserAgent: e.UserAgent,
				SessionID: e.SessionID,
				Severity:  e.Severity,
				CreatedAt: e.Timestamp,
			}
		}
		err = p.activities.InsertBatch(ctx, records)
	case streamAudit:
		records := make([]models.AuditRecord, len(batch))
		for i, e := range batch {
			records[i] = models.AuditRecord{
				UserID:    e.UserID,
				TenantID:  e.TenantID,
				Action:    e.Action,
				TableName: e.TableName,
				RecordID:  e.RecordID,
				OldValues: models.Object(e.OldValues),
				NewValues: models.Object(e.NewValues),
				IPAddress: e.IPAddress,
				UserAgent: e.UserAgent,
				CreatedAt: e.Timestamp,
			}
		}
		err = p.auditRows.InsertBatch(ctx, records)
	}
	if err != nil {
		p.lg.Errorw("audit flush failed, dropping batch",
			"tenant_id", key.tenantID, "stream", key.stream, "size", len(batch), "error", err)
	}
}

// updateIndices records the event in the sliding per-user and per-tenant
// activity indices, trimmed to the most recent entries.
func (p *Pipeline) updateIndices(e Event) {
	if p.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushGrace)
	defer cancel()

	score := float64(e.Timestamp.UnixMilli())
	member := fmt.Sprintf("%d:%s", e.Timestamp.UnixNano(), e.Action)

	keys := []string{fmt.Sprintf("activity:tenant:%d", e.TenantID)}
	if e.UserID != 0 {
		keys = append(keys, fmt.Sprintf("activity:user:%d:%d", e.UserID, e.TenantID))
	}
	for _, key := range keys {
		if err := p.kv.ZAdd(ctx, key, score, member); err != nil {
			p.lg.Warnw("activity index update failed", "key", key, "error", err)
			continue
		}
		_ = p.kv.ZTrimToLast(ctx, key, indexLimit)
		_ = p.kv.Expire(ctx, key, indexTTL)
	}
}
