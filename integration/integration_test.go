package integration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/adapters/sqlite"
	"github.com/modelmycode/cqrs-framework/core/app"
	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/processor"
)

type (
	Counter struct {
		es.BaseAggregate
		Value int
	}
	Incremented struct {
		By int `json:"by"`
	}
)

func (c *Counter) GetAggType() string      { return "counter" }
func (c *Counter) Register(r es.Registrar) { es.RegisterEvent[Incremented](r) }
func (c *Counter) Apply(event any) error {
	if e, ok := event.(*Incremented); ok {
		c.Value += e.By
	}
	return nil
}

// sums deduplicates redelivered events by id.
type sums struct {
	mu         sync.Mutex
	seen       map[string]bool
	byCounter  map[string]int
	deliveries int
}

func (s *sums) Subscribe(sub *processor.Subscriptions) {
	processor.On(sub, "OnIncremented", func(_ context.Context, e *Incremented, meta processor.EventMeta) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deliveries++
		if s.seen[meta.ID] {
			return nil
		}
		s.seen[meta.ID] = true
		s.byCounter[meta.AggregateID] += e.By
		return nil
	})
}

func (s *sums) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, v := range s.byCounter {
		total += v
	}
	return total
}

func TestIntegration(t *testing.T) {
	const (
		numNodes   = 3
		numWriters = 4
		perWriter  = 20
	)

	ctx := t.Context()
	store := es.NewInMemoryStore()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tokens := sqlite.NewTokenStore(db, nil)

	view := &sums{seen: map[string]bool{}, byCounter: map[string]int{}}
	apps := make([]*app.App, numNodes)
	procs := make([]*processor.TrackingEventProcessor, numNodes)
	for i := range apps {
		a, err := app.New(app.Config{
			Log:      slog.Default(),
			Store:    store,
			Channel:  store,
			Tokens:   tokens,
			ClientID: fmt.Sprintf("node-%d", i),
			Timings: processor.Timings{
				Heartbeat:      20 * time.Millisecond,
				IdleRecheck:    20 * time.Millisecond,
				ProcessRecheck: 5 * time.Millisecond,
			},
			ReplayHistory: true,
		})
		require.NoError(t, err)
		procs[i], err = a.AddProcessor("sums", []processor.Handler{view})
		require.NoError(t, err)
		require.NoError(t, a.Start(ctx))
		t.Cleanup(a.Shutdown)
		apps[i] = a
	}

	active := func() []int {
		var out []int
		for i, p := range procs {
			if p.IsActive() {
				out = append(out, i)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(active()) == 1 }, 2*time.Second, 5*time.Millisecond)
	first := active()[0]

	counters, err := app.Sourcing(apps[0], func() *Counter { return &Counter{} })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range numWriters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%d", w)
			_, err := counters.Create(ctx, id, func(_ context.Context, c *Counter) error {
				return es.RaiseAndApply(c, &Incremented{By: 1})
			})
			if !assert.NoError(t, err) {
				return
			}
			for range perWriter {
				_, err := counters.Load(ctx, id, func(_ context.Context, c *Counter) error {
					return es.RaiseAndApply(c, &Incremented{By: 1})
				})
				assert.NoError(t, err)
			}
		}()
	}

	// the owner goes away while events are being written
	time.Sleep(10 * time.Millisecond)
	apps[first].Shutdown()
	require.False(t, procs[first].IsActive())

	wg.Wait()
	want := numWriters * (perWriter + 1)

	require.Eventually(t, func() bool {
		a := active()
		return len(a) == 1 && a[0] != first
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return view.Total() == want }, 5*time.Second, 5*time.Millisecond)

	last, err := store.GetLastToken(ctx)
	require.NoError(t, err)
	require.EqualValues(t, want-1, last)

	require.Eventually(t, func() bool {
		rec, err := tokens.Read(ctx, procs[first].TokenID())
		return err == nil && rec != nil && rec.Token == last
	}, 2*time.Second, 5*time.Millisecond)

	view.mu.Lock()
	require.GreaterOrEqual(t, view.deliveries, want)
	view.mu.Unlock()
}
