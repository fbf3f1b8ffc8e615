package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authgate/internal/models"
)

type capturedActivities struct {
	mu      sync.Mutex
	batches [][]models.ActivityRecord
	fail    bool
}

func (c *capturedActivities) InsertBatch(_ context.Context, records []models.ActivityRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("document store down")
	}
	c.batches = append(c.batches, records)
	return nil
}

func (c *capturedActivities) RecentByUser(context.Context, uint, uint, int) ([]models.ActivityRecord, error) {
	return nil, nil
}

func (c *capturedActivities) snapshot() [][]models.ActivityRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]models.ActivityRecord, len(c.batches))
	copy(out, c.batches)
	return out
}

type capturedAudits struct {
	mu      sync.Mutex
	batches [][]models.AuditRecord
}

func (c *capturedAudits) InsertBatch(_ context.Context, records []models.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
	return nil
}

func (c *capturedAudits) snapshot() [][]models.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]models.AuditRecord, len(c.batches))
	copy(out, c.batches)
	return out
}

func testPipeline(batchSize int, timeout time.Duration) (*Pipeline, *capturedActivities, *capturedAudits) {
	acts := &capturedActivities{}
	auds := &capturedAudits{}
	p := NewPipeline(acts, auds, nil, zap.NewNop().Sugar(), batchSize, timeout)
	return p, acts, auds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFlushAtBatchSize(t *testing.T) {
	p, acts, _ := testPipeline(3, time.Minute)
	defer p.Close()

	for i := 0; i < 3; i++ {
		p.Log(Event{TenantID: 1, Action: "user_login"})
	}
	waitFor(t, func() bool { return len(acts.snapshot()) == 1 })
	require.Len(t, acts.snapshot()[0], 3)
}

func TestBatchSizePlusOneMakesTwoBatchesInOrder(t *testing.T) {
	p, acts, _ := testPipeline(3, 50*time.Millisecond)
	defer p.Close()

	actions := []string{"a1", "a2", "a3", "a4"}
	for _, a := range actions {
		p.Log(Event{TenantID: 1, Action: a})
	}
	waitFor(t, func() bool { return len(acts.snapshot()) == 2 })

	batches := acts.snapshot()
	require.Len(t, batches[0], 3)
	require.Len(t, batches[1], 1)
	var got []string
	for _, b := range batches {
		for _, r := range b {
			got = append(got, r.Action)
		}
	}
	assert.Equal(t, actions, got)
}

func TestFlushOnTimeout(t *testing.T) {
	p, acts, _ := testPipeline(100, 30*time.Millisecond)
	defer p.Close()

	p.Log(Event{TenantID: 1, Action: "user_login"})
	waitFor(t, func() bool { return len(acts.snapshot()) == 1 })
	assert.Len(t, acts.snapshot()[0], 1)
}

func TestTableNameRoutesToAuditStream(t *testing.T) {
	p, acts, auds := testPipeline(1, time.Minute)
	defer p.Close()

	p.Log(Event{
		TenantID:  1,
		UserID:    7,
		Action:    "profile_updated",
		TableName: "users",
		RecordID:  "7",
		OldValues: map[string]any{"name": "A"},
		NewValues: map[string]any{"name": "B"},
	})
	p.Log(Event{TenantID: 1, UserID: 7, Action: "user_login"})

	waitFor(t, func() bool { return len(acts.snapshot()) == 2 && len(auds.snapshot()) == 1 })

	rows := auds.snapshot()[0]
	require.Len(t, rows, 1)
	assert.Equal(t, "users", rows[0].TableName)
	assert.JSONEq(t, `{"name":"B"}`, string(rows[0].NewValues))

	// Both events reached the document stream regardless.
	total := 0
	for _, b := range acts.snapshot() {
		total += len(b)
	}
	assert.Equal(t, 2, total)
}

func TestCloseFlushesPending(t *testing.T) {
	p, acts, _ := testPipeline(100, time.Minute)

	for i := 0; i < 5; i++ {
		p.Log(Event{TenantID: 1, Action: "user_login"})
	}
	p.Close()

	batches := acts.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 5)
}

func TestFailedFlushDropsBatch(t *testing.T) {
	p, acts, _ := testPipeline(2, time.Minute)
	defer p.Close()

	acts.fail = true
	p.Log(Event{TenantID: 1, Action: "user_login"})
	p.Log(Event{TenantID: 1, Action: "user_login"})
	time.Sleep(50 * time.Millisecond)

	acts.mu.Lock()
	acts.fail = false
	acts.mu.Unlock()
	p.Log(Event{TenantID: 1, Action: "after_recovery"})
	p.Log(Event{TenantID: 1, Action: "after_recovery"})

	waitFor(t, func() bool { return len(acts.snapshot()) == 1 })
	assert.Equal(t, "after_recovery", acts.snapshot()[0][0].Action)
}

func TestTenantsBatchIndependently(t *testing.T) {
	p, acts, _ := testPipeline(2, time.Minute)
	defer p.Close()

	p.Log(Event{TenantID: 1, Action: "t1"})
	p.Log(Event{TenantID: 2, Action: "t2"})
	// Neither tenant reached its batch size yet.
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, acts.snapshot())

	p.Log(Event{TenantID: 1, Action: "t1"})
	waitFor(t, func() bool { return len(acts.snapshot()) == 1 })
	for _, r := range acts.snapshot()[0] {
		assert.Equal(t, uint(1), r.TenantID)
	}
}

func TestDefaultsApplied(t *testing.T) {
	p, acts, _ := testPipeline(1, time.Minute)
	defer p.Close()

	p.Log(Event{TenantID: 1, Action: "user_login"})
	waitFor(t, func() bool { return len(acts.snapshot()) == 1 })
	rec := acts.snapshot()[0][0]
	assert.Equal(t, SeverityInfo, rec.Severity)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestLogConcurrentWithClose(t *testing.T) {
	// Log racing Close must never panic on a closed worker channel.
	for i := 0; i < 200; i++ {
		p, _, _ := testPipeline(4, time.Second)
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					p.Log(Event{TenantID: uint(g % 3), Action: "burst"})
				}
			}(g)
		}
		p.Close()
		wg.Wait()
	}
}
