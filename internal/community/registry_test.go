package community

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

type fakeConfigStore struct {
	mu     sync.Mutex
	blobs  map[string]map[string]json.RawMessage
	gets   int
	setErr error
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{blobs: make(map[string]map[string]json.RawMessage)}
}

func (f *fakeConfigStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	m, ok := f.blobs[id]
	if !ok {
		return nil, false, nil
	}
	b, err := json.Marshal(m)
	return b, true, err
}

func (f *fakeConfigStore) SetKey(_ context.Context, id, key string, value json.RawMessage, _ time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return nil, f.setErr
	}
	m, ok := f.blobs[id]
	if !ok {
		m = make(map[string]json.RawMessage)
		f.blobs[id] = m
	}
	m[key] = value
	return json.Marshal(m)
}

func TestRegistry_ColdCommunityYieldsDefaults(t *testing.T) {
	reg := NewRegistry(newFakeConfigStore(), zap.NewNop())

	s, err := reg.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)
	assert.Equal(t, []string{"g1"}, reg.Communities())
}

func TestRegistry_MemoizesReads(t *testing.T) {
	store := newFakeConfigStore()
	reg := NewRegistry(store, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := reg.Get(ctx, "g1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.gets)
}

func TestRegistry_SetIsVisibleImmediately(t *testing.T) {
	store := newFakeConfigStore()
	reg := NewRegistry(store, zap.NewNop())
	ctx := context.Background()

	_, err := reg.Get(ctx, "g1")
	require.NoError(t, err)

	_, err = reg.Set(ctx, "g1", domain.KeyMaxTickets, "1")
	require.NoError(t, err)
	_, err = reg.Set(ctx, "g1", domain.KeyTicketCategory, "CAT")
	require.NoError(t, err)

	s, err := reg.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.MaxTickets)
	assert.Equal(t, "CAT", s.TicketCategory)

	// a fresh registry sees the durable state
	again, err := NewRegistry(store, zap.NewNop()).Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestRegistry_SetRejectsInvalidWithoutWriting(t *testing.T) {
	store := newFakeConfigStore()
	reg := NewRegistry(store, zap.NewNop())

	_, err := reg.Set(context.Background(), "g1", domain.KeyMaxTickets, "50")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, store.blobs)
}

func TestRegistry_FailedWriteKeepsCachedValue(t *testing.T) {
	store := newFakeConfigStore()
	reg := NewRegistry(store, zap.NewNop())
	ctx := context.Background()

	_, err := reg.Set(ctx, "g1", domain.KeyMaxTickets, "2")
	require.NoError(t, err)

	store.setErr = errors.New("disk full")
	_, err = reg.Set(ctx, "g1", domain.KeyMaxTickets, "7")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInternal)

	s, err := reg.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxTickets, "uncommitted value must never be observed")
}

func TestRegistry_Register(t *testing.T) {
	store := newFakeConfigStore()
	reg := NewRegistry(store, zap.NewNop())

	reg.Register("g2", "g1", "", "g2")
	assert.Equal(t, []string{"g1", "g2"}, reg.Communities())
	assert.Zero(t, store.gets, "registration does not load")

	_, err := reg.Get(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(newFakeConfigStore(), zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.Get(ctx, "g1")
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Set(ctx, "g1", domain.KeyAutoCloseMinutes, "45")
		}()
	}
	wg.Wait()

	s, err := reg.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 45, s.AutoCloseMinutes)
}
