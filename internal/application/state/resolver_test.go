package state

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/account-relay/account-relay/internal/domain/account"
	"github.com/account-relay/account-relay/internal/domain/account/mocks"
)

func newTestResolver(store *Store, cache account.Cache, repo account.Repository) *Resolver {
	return NewResolver(store, cache, repo, time.Minute, 100*time.Millisecond, &Counters{}, zerolog.Nop())
}

func TestResolveLiveTierWins(t *testing.T) {
	store, repo, cache, _ := newTestStore()
	defer store.Wait()
	store.Apply(event("K1", 12))

	r := newTestResolver(store, cache, repo)
	st, src := r.Resolve(context.Background(), "K1")

	require.NotNil(t, st)
	assert.Equal(t, account.SourceLive, src)
	assert.Equal(t, uint64(12), st.Slot)
}

func TestResolveCacheTierHydratesLive(t *testing.T) {
	store, repo, _, _ := newTestStore()
	cache := &mocks.MockCache{}
	cached := &account.State{Key: "K1", Slot: 9}
	cache.On("Get", mock.Anything, account.Key("K1")).Return(cached, nil).Once()

	r := newTestResolver(store, cache, repo)
	st, src := r.Resolve(context.Background(), "K1")

	require.NotNil(t, st)
	assert.Equal(t, account.SourceCache, src)
	assert.Equal(t, uint64(9), st.Slot)

	// hydrated: the next resolve short-circuits at the live tier
	st, src = r.Resolve(context.Background(), "K1")
	assert.Equal(t, account.SourceLive, src)
	assert.Equal(t, uint64(9), st.Slot)
	cache.AssertExpectations(t)
}

func TestResolveDatabaseTierHydratesLiveAndCache(t *testing.T) {
	store, _, _, _ := newTestStore()
	repo := &mocks.MockRepository{}
	cache := &mocks.MockCache{}
	stored := &account.State{Key: "K1", Slot: 6}
	cache.On("Get", mock.Anything, account.Key("K1")).Return(nil, account.ErrNotFound).Once()
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("GetLatest", mock.Anything, account.Key("K1")).Return(stored, nil).Once()

	r := newTestResolver(store, cache, repo)
	st, src := r.Resolve(context.Background(), "K1")

	require.NotNil(t, st)
	assert.Equal(t, account.SourceDatabase, src)
	assert.Equal(t, uint64(6), st.Slot)

	_, src = r.Resolve(context.Background(), "K1")
	assert.Equal(t, account.SourceLive, src)
	repo.AssertExpectations(t)
}

func TestResolveMiss(t *testing.T) {
	store, _, _, _ := newTestStore()
	repo := &mocks.MockRepository{}
	cache := &mocks.MockCache{}
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, account.ErrNotFound)
	repo.On("GetLatest", mock.Anything, mock.Anything).Return(nil, account.ErrNotFound)

	r := newTestResolver(store, cache, repo)
	st, src := r.Resolve(context.Background(), "K1")

	assert.Nil(t, st)
	assert.Equal(t, account.SourceNone, src)
}

func TestResolveCacheErrorFallsThrough(t *testing.T) {
	store, _, _, _ := newTestStore()
	repo := &mocks.MockRepository{}
	cache := &mocks.MockCache{}
	stored := &account.State{Key: "K1", Slot: 3}
	cache.On("Get", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("GetLatest", mock.Anything, account.Key("K1")).Return(stored, nil)

	r := newTestResolver(store, cache, repo)
	st, src := r.Resolve(context.Background(), "K1")

	require.NotNil(t, st)
	assert.Equal(t, account.SourceDatabase, src)
}

// blockingTier hangs until the resolve context expires.
type blockingTier struct{}

func (blockingTier) Get(ctx context.Context, _ account.Key) (*account.State, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingTier) Set(context.Context, *account.State, time.Duration) error { return nil }

func (blockingTier) GetLatest(ctx context.Context, _ account.Key) (*account.State, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingTier) UpsertLatest(context.Context, *account.State) error { return nil }
func (blockingTier) AppendAudit(context.Context, *account.State) error  { return nil }

func TestResolveDegradesToNotFoundOnTimeout(t *testing.T) {
	store, _, _, _ := newTestStore()
	r := newTestResolver(store, blockingTier{}, blockingTier{})

	start := time.Now()
	st, src := r.Resolve(context.Background(), "K1")
	elapsed := time.Since(start)

	assert.Nil(t, st)
	assert.Equal(t, account.SourceNone, src)
	assert.Less(t, elapsed, time.Second, "resolve must not hang past its timeout")
}
