package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-companion-system/models"
)

// countingDocs wraps a DocumentService and counts writes.
type countingDocs struct {
	DocumentService
	mu   sync.Mutex
	sets int
}

func (d *countingDocs) Set(ctx context.Context, collection, id string, fields Document, merge bool) error {
	d.mu.Lock()
	d.sets++
	d.mu.Unlock()
	return d.DocumentService.Set(ctx, collection, id, fields, merge)
}

func (d *countingDocs) setCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sets
}

type stubExchanger struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *stubExchanger) ExchangeToken(_ context.Context, userID string) (*ExchangedToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return nil, errors.New("identity provider unavailable")
	}
	return &ExchangedToken{Raw: "token-" + userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (e *stubExchanger) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestBridge(t *testing.T) (*SyncBridge, *countingDocs, *PetService, KVStore) {
	t.Helper()
	kv := NewMemoryKVStore()
	pets := NewPetService(kv, NewVitalityService(kv), newStubLedger(10000))
	docs := &countingDocs{DocumentService: NewMemoryDocumentService()}
	bridge := NewSyncBridge(docs, &stubExchanger{}, pets, kv, "svc")
	return bridge, docs, pets, kv
}

func TestPushPetInfoDeduplicatesByFingerprint(t *testing.T) {
	bridge, docs, pets, _ := newTestBridge(t)
	ctx := context.Background()

	_, err := pets.Adopt(ctx, "u1", models.PetCorgi, "Rex", 0)
	require.NoError(t, err)

	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	first := docs.setCount()

	// Identical state: no further remote write.
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	assert.Equal(t, first, docs.setCount())

	// A rename changes the fingerprint and pushes again.
	_, err = pets.Adopt(ctx, "u1", models.PetCorgi, "Biscuit", 0)
	require.NoError(t, err)
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	assert.Greater(t, docs.setCount(), first)
}

func TestPushPetInfoSkipsWithoutPet(t *testing.T) {
	bridge, docs, _, _ := newTestBridge(t)

	require.NoError(t, bridge.PushPetInfo(context.Background(), "u1"))
	assert.Zero(t, docs.setCount())
}

func TestPushVitalityTransitionFiresOnce(t *testing.T) {
	bridge, docs, pets, _ := newTestBridge(t)
	ctx := context.Background()

	_, err := pets.Adopt(ctx, "u1", models.PetCorgi, "Rex", 0)
	require.NoError(t, err)
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	base := docs.setCount()

	require.NoError(t, bridge.PushVitalityTransition(ctx, "u1"))
	assert.Equal(t, base+1, docs.setCount())

	// Subsequent ticks on an already-dead pet push nothing.
	require.NoError(t, bridge.PushVitalityTransition(ctx, "u1"))
	require.NoError(t, bridge.PushVitalityTransition(ctx, "u1"))
	assert.Equal(t, base+1, docs.setCount())

	doc, err := bridge.docs.Get(ctx, UsersCollection, "u1")
	require.NoError(t, err)
	assert.False(t, doc.Bool("hasPet"))
}

func TestReAdoptionReArmsTransitionPush(t *testing.T) {
	bridge, docs, pets, _ := newTestBridge(t)
	ctx := context.Background()

	_, err := pets.Adopt(ctx, "u1", models.PetCorgi, "Rex", 0)
	require.NoError(t, err)
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	require.NoError(t, bridge.PushVitalityTransition(ctx, "u1"))
	base := docs.setCount()

	_, err = pets.Adopt(ctx, "u1", models.PetPug, "Bean", 0)
	require.NoError(t, err)
	require.NoError(t, bridge.PushPetInfo(ctx, "u1"))
	require.NoError(t, bridge.PushVitalityTransition(ctx, "u1"))
	assert.Equal(t, base+2, docs.setCount())
}

func TestColdStartSeedsNewUser(t *testing.T) {
	bridge, _, _, _ := newTestBridge(t)
	ctx := context.Background()

	ident := Identity{UserID: "u1", DisplayName: "Ada"}
	require.NoError(t, bridge.SyncUserOnColdStart(ctx, ident, 1200))

	doc, err := bridge.docs.Get(ctx, UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc.String("displayName"))
	assert.Equal(t, "online", doc.String("status"))
	tokens, ok := doc.Int64("tokens")
	require.True(t, ok)
	assert.Equal(t, int64(1200), tokens)
	assert.True(t, doc.Has("createdAt"))
}

func TestColdStartLocalBackgroundWins(t *testing.T) {
	bridge, _, _, kv := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, bridge.docs.Set(ctx, UsersCollection, "u1", Document{
		"displayName":    "Ada",
		"backgroundData": "remote-sky",
	}, false))
	require.NoError(t, kv.Set(ctx, "u1", BackgroundKey, "local-forest"))

	require.NoError(t, bridge.SyncUserOnColdStart(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, 0))

	doc, err := bridge.docs.Get(ctx, UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "local-forest", doc.String("backgroundData"))

	local, found, err := kv.Get(ctx, "u1", BackgroundKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "local-forest", local)
}

func TestColdStartRemoteBackgroundSeedsLocalOnce(t *testing.T) {
	bridge, _, _, kv := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, bridge.docs.Set(ctx, UsersCollection, "u1", Document{
		"displayName":    "Ada",
		"backgroundData": "remote-sky",
	}, false))

	require.NoError(t, bridge.SyncUserOnColdStart(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, 0))

	local, found, err := kv.Get(ctx, "u1", BackgroundKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "remote-sky", local)
}

func TestEnsureAuthenticatedCachesToken(t *testing.T) {
	exchanger := &stubExchanger{}
	kv := NewMemoryKVStore()
	pets := NewPetService(kv, NewVitalityService(kv), newStubLedger(0))
	bridge := NewSyncBridge(NewMemoryDocumentService(), exchanger, pets, kv, "svc")

	raw, err := bridge.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-svc", raw)

	_, err = bridge.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, exchanger.callCount())
}

func TestEnsureAuthenticatedBoundedRetries(t *testing.T) {
	exchanger := &stubExchanger{fail: true}
	kv := NewMemoryKVStore()
	pets := NewPetService(kv, NewVitalityService(kv), newStubLedger(0))
	bridge := NewSyncBridge(NewMemoryDocumentService(), exchanger, pets, kv, "svc")
	ctx := context.Background()

	for i := 0; i < MaxAuthAttempts; i++ {
		_, err := bridge.EnsureAuthenticated(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAuthExhausted)
	}

	// The session is exhausted: no further exchange attempts.
	_, err := bridge.EnsureAuthenticated(ctx)
	assert.ErrorIs(t, err, ErrAuthExhausted)
	assert.Equal(t, MaxAuthAttempts, exchanger.callCount())

	// Reset re-arms the loop.
	bridge.ResetAuth()
	exchanger.fail = false
	raw, err := bridge.EnsureAuthenticated(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-svc", raw)
}

func TestEnsureAuthenticatedWithoutExchanger(t *testing.T) {
	kv := NewMemoryKVStore()
	pets := NewPetService(kv, NewVitalityService(kv), newStubLedger(0))
	bridge := NewSyncBridge(NewMemoryDocumentService(), nil, pets, kv, "svc")

	_, err := bridge.EnsureAuthenticated(context.Background())
	assert.ErrorIs(t, err, ErrAuthNotConfigured)
}
