package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/service"
)

type fakeSweeper struct {
	mu       sync.Mutex
	calls    []string
	block    chan struct{}
	started  chan struct{}
	failFor  string
	selected int
}

func (f *fakeSweeper) record(kind, id string) (service.SweepResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+id)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if id == f.failFor {
		return service.SweepResult{}, errors.New("boom")
	}
	return service.SweepResult{Selected: f.selected, Acted: f.selected}, nil
}

func (f *fakeSweeper) SweepInactive(_ context.Context, id string) (service.SweepResult, error) {
	return f.record(service.SweepInactivity, id)
}

func (f *fakeSweeper) SweepStale(_ context.Context, id string) (service.SweepResult, error) {
	return f.record(service.SweepStaleness, id)
}

func (f *fakeSweeper) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type staticSource struct {
	ids []string
	err error
}

func (s staticSource) ListCommunities(context.Context) ([]string, error) { return s.ids, s.err }

type setRegistry struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newSetRegistry(ids ...string) *setRegistry {
	r := &setRegistry{ids: map[string]bool{}}
	r.Register(ids...)
	return r
}

func (r *setRegistry) Register(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.ids[id] = true
	}
}

func (r *setRegistry) Communities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestRunOnce_DiscoversAndSweepsEveryCommunity(t *testing.T) {
	sweeper := &fakeSweeper{selected: 2}
	registry := newSetRegistry("loaded")
	s := NewScheduler(sweeper, staticSource{ids: []string{"persisted"}}, registry, time.Minute, time.Hour, zap.NewNop())

	summary, err := s.RunOnce(context.Background(), service.SweepStaleness)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Communities)
	assert.Equal(t, 4, summary.Acted)
	assert.Equal(t, []string{"staleness:loaded", "staleness:persisted"}, sweeper.Calls())
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	sweeper := &fakeSweeper{failFor: "a"}
	s := NewScheduler(sweeper, staticSource{err: errors.New("db down")}, newSetRegistry("a", "b"), time.Minute, time.Hour, zap.NewNop())

	summary, err := s.RunOnce(context.Background(), service.SweepInactivity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, 2, summary.Communities)
	assert.Equal(t, []string{"inactivity:a", "inactivity:b"}, sweeper.Calls())
}

func TestRunOnce_UnknownKind(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, staticSource{}, newSetRegistry(), time.Minute, time.Hour, zap.NewNop())
	_, err := s.RunOnce(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestRunOnce_SameSweepNeverOverlaps(t *testing.T) {
	sweeper := &fakeSweeper{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(sweeper, staticSource{}, newSetRegistry("a"), time.Minute, time.Hour, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunOnce(context.Background(), service.SweepInactivity)
	}()
	<-sweeper.started

	_, err := s.RunOnce(context.Background(), service.SweepInactivity)
	assert.ErrorIs(t, err, ErrSweepRunning)

	close(sweeper.block)
	<-done
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := NewScheduler(sweeper, staticSource{ids: []string{"g"}}, newSetRegistry(), 10*time.Millisecond, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return len(sweeper.Calls()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	for _, c := range sweeper.Calls() {
		assert.Equal(t, "inactivity:g", c)
	}
}
