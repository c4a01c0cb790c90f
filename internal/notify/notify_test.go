package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/testutil"
)

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	got     []repository.Notification
}

func (s *blockingStore) Insert(_ context.Context, n *repository.Notification) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, *n)
	return nil
}

func TestDispatcherDeliversToStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewNotificationRepo(db)

	d := NewDispatcher(repo, 8, zaptest.NewLogger(t), nil)
	d.Notify(ctx, "alice", "dispute_created", "Dispute opened", "A dispute was filed", map[string]string{"dispute_id": "d1"})
	d.Notify(ctx, "", "ignored", "", "", nil)
	d.Close()

	got, err := repo.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dispute_created", got[0].Kind)
	assert.Equal(t, "d1", got[0].Metadata["dispute_id"])
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	store := &blockingStore{release: make(chan struct{})}
	d := NewDispatcher(store, 1, zaptest.NewLogger(t), m)

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), "bob", "k", "t", "m", nil)
	}
	close(store.release)
	d.Close()

	// At most one in flight and one queued.
	dropped := prom.ToFloat64(m.NotificationsDropped)
	assert.GreaterOrEqual(t, dropped, 3.0)
	assert.Equal(t, 5.0, dropped+float64(len(store.got)))

	d.Notify(context.Background(), "bob", "late", "t", "m", nil)
	assert.Equal(t, dropped+1, prom.ToFloat64(m.NotificationsDropped))
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *repository.AuditEntry) error {
	return errors.New("disk full")
}

func TestAuditorSwallowsFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	a := NewAuditor(failingAudit{}, zaptest.NewLogger(t), m)

	assert.NotPanics(t, func() {
		a.Record(context.Background(), "dispute.create", "dispute", "d1", "alice", nil)
	})
	assert.Equal(t, 1.0, prom.ToFloat64(m.SinkFailures.WithLabelValues("audit")))
}

func TestAuditorWritesEntry(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAuditRepo(testutil.NewDB(t))
	a := NewAuditor(repo, zaptest.NewLogger(t), nil)

	a.Record(ctx, "alert.update_status", "alert", "a1", "rev", map[string]any{"to": "resolved"})

	entries, err := repo.ListForResource(ctx, "alert", "a1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rev", entries[0].ActorID)
	assert.Equal(t, "resolved", entries[0].Details["to"])
}
