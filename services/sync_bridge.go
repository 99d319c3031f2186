package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// MaxAuthAttempts bounds credential-exchange retries per session so a broken
// identity provider never sees an unbounded retry storm.
const MaxAuthAttempts = 3

var (
	ErrAuthExhausted     = errors.New("authentication attempts exhausted for this session")
	ErrAuthNotConfigured = errors.New("no credential exchanger configured")
)

// SyncBridge propagates state between the local pet/vitality stores and the
// remote document store. Pushes are idempotent upserts deduplicated by
// fingerprint; the cold-start pull seeds local-missing fields only. Conflict
// policy everywhere is last-writer-wins at the field level.
type SyncBridge struct {
	docs DocumentService
	auth TokenExchanger
	pets *PetService
	kv   KVStore

	// ServiceAccount is the subject the bridge authenticates as.
	ServiceAccount string

	mu             sync.Mutex
	token          *ExchangedToken
	authAttempts   int
	lastFinger     map[string]string // userID -> selection|name fingerprint
	pushedInactive map[string]bool   // userID -> hasPet=false already pushed

	now func() time.Time
}

func NewSyncBridge(docs DocumentService, auth TokenExchanger, pets *PetService, kv KVStore, serviceAccount string) *SyncBridge {
	return &SyncBridge{
		docs:           docs,
		auth:           auth,
		pets:           pets,
		kv:             kv,
		ServiceAccount: serviceAccount,
		lastFinger:     make(map[string]string),
		pushedInactive: make(map[string]bool),
		now:            time.Now,
	}
}

// EnsureAuthenticated returns a valid credential, exchanging a new one when
// the cached token is missing or near expiry. After MaxAuthAttempts failed
// exchanges the session gives up until ResetAuth.
func (b *SyncBridge) EnsureAuthenticated(ctx context.Context) (string, error) {
	if b.auth == nil {
		return "", ErrAuthNotConfigured
	}
	b.mu.Lock()
	if !b.token.Expired(b.now()) {
		raw := b.token.Raw
		b.mu.Unlock()
		return raw, nil
	}
	if b.authAttempts >= MaxAuthAttempts {
		b.mu.Unlock()
		return "", ErrAuthExhausted
	}
	b.authAttempts++
	attempt := b.authAttempts
	b.mu.Unlock()

	token, err := b.auth.ExchangeToken(ctx, b.ServiceAccount)
	if err != nil {
		log.Printf("❌ Credential exchange attempt %d/%d failed: %v", attempt, MaxAuthAttempts, err)
		return "", fmt.Errorf("credential exchange failed: %w", err)
	}

	b.mu.Lock()
	b.token = token
	b.authAttempts = 0
	b.mu.Unlock()
	return token.Raw, nil
}

// ResetAuth re-arms the bounded retry loop (manual refresh path).
func (b *SyncBridge) ResetAuth() {
	b.mu.Lock()
	b.token = nil
	b.authAttempts = 0
	b.mu.Unlock()
}

// TokenSource adapts the bridge for the document client.
func (b *SyncBridge) TokenSource() TokenSource {
	return func(ctx context.Context) (string, error) {
		return b.EnsureAuthenticated(ctx)
	}
}

// PushPetInfo upserts petSelection+petName on the user document. Consecutive
// identical pushes are dropped via the remembered fingerprint, so callers
// can invoke this redundantly on every state change.
func (b *SyncBridge) PushPetInfo(ctx context.Context, userID string) error {
	rec, err := b.pets.Record(ctx, userID)
	if err != nil {
		return err
	}
	if !rec.HasPet || rec.SelectedPet == nil {
		return nil
	}

	finger := fmt.Sprintf("%d|%s", int(*rec.SelectedPet), rec.PetName)
	b.mu.Lock()
	if b.lastFinger[userID] == finger {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	err = b.docs.Set(ctx, UsersCollection, userID, Document{
		"petSelection": int(*rec.SelectedPet),
		"petName":      rec.PetName,
		"hasPet":       true,
		"updatedAt":    b.now().UTC(),
	}, true)
	if err != nil {
		return fmt.Errorf("failed to push pet info: %w", err)
	}

	b.mu.Lock()
	b.lastFinger[userID] = finger
	// A live pet re-arms the one-shot inactive push.
	b.pushedInactive[userID] = false
	b.mu.Unlock()
	return nil
}

// PushVitalityTransition pushes hasPet=false exactly once per zero-crossing.
// Subsequent calls are no-ops until a new adoption re-arms it.
func (b *SyncBridge) PushVitalityTransition(ctx context.Context, userID string) error {
	b.mu.Lock()
	if b.pushedInactive[userID] {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	err := b.docs.Set(ctx, UsersCollection, userID, Document{
		"hasPet":    false,
		"updatedAt": b.now().UTC(),
	}, true)
	if err != nil {
		return fmt.Errorf("failed to push hasPet transition: %w", err)
	}

	b.mu.Lock()
	b.pushedInactive[userID] = true
	delete(b.lastFinger, userID)
	b.mu.Unlock()
	return nil
}

// SyncUserOnColdStart seeds or merges the caller's user document and applies
// the background reconciliation rule: the local cosmetic selection wins when
// present, otherwise the remote value seeds the local cache once.
func (b *SyncBridge) SyncUserOnColdStart(ctx context.Context, ident Identity, tokens int64) error {
	rec, err := b.pets.Record(ctx, ident.UserID)
	if err != nil {
		return err
	}

	remote, err := b.docs.Get(ctx, UsersCollection, ident.UserID)
	isNewUser := false
	if err != nil {
		if !errors.Is(err, ErrDocNotFound) {
			return fmt.Errorf("failed to read user document: %w", err)
		}
		isNewUser = true
	}

	localBackground, haveLocal, err := b.kv.Get(ctx, ident.UserID, BackgroundKey)
	if err != nil {
		return err
	}

	now := b.now().UTC()
	fields := Document{
		"userId":      ident.UserID,
		"displayName": ident.DisplayName,
		"status":      "online",
		"lastActive":  now,
		"updatedAt":   now,
		"petName":     rec.PetName,
		"hasPet":      rec.HasPet,
	}
	if rec.SelectedPet != nil {
		fields["petSelection"] = int(*rec.SelectedPet)
	}
	if haveLocal {
		fields["backgroundData"] = localBackground
	}
	if isNewUser {
		fields["createdAt"] = now
		fields["tokens"] = tokens
	}

	if err := b.docs.Set(ctx, UsersCollection, ident.UserID, fields, true); err != nil {
		return fmt.Errorf("failed to sync user document: %w", err)
	}

	// Remote background seeds the local cache only when nothing local exists.
	if !haveLocal && !isNewUser {
		if bg := remote.String("backgroundData"); bg != "" {
			if err := b.kv.Set(ctx, ident.UserID, BackgroundKey, bg); err != nil {
				log.Printf("⚠️ Failed to seed local background for user %s: %v", ident.UserID, err)
			}
		}
	}
	return nil
}

// PushTokens mirrors the live token balance onto the user document so other
// clients' leaderboards see it (their rows use the remote value).
func (b *SyncBridge) PushTokens(ctx context.Context, userID string, tokens int64) error {
	return b.docs.Set(ctx, UsersCollection, userID, Document{
		"tokens":    tokens,
		"updatedAt": b.now().UTC(),
	}, true)
}

// UpdateStatus writes the presence status (online/offline) with a fresh
// lastActive stamp.
func (b *SyncBridge) UpdateStatus(ctx context.Context, userID, status string) error {
	now := b.now().UTC()
	return b.docs.Set(ctx, UsersCollection, userID, Document{
		"status":     status,
		"lastActive": now,
		"updatedAt":  now,
	}, true)
}

// SetBackground persists the cosmetic selection locally (source of truth)
// and best-effort mirrors it remotely.
func (b *SyncBridge) SetBackground(ctx context.Context, userID, backgroundData string) error {
	if err := b.kv.Set(ctx, userID, BackgroundKey, backgroundData); err != nil {
		return err
	}
	if err := b.docs.Set(ctx, UsersCollection, userID, Document{
		"backgroundData": backgroundData,
		"updatedAt":      b.now().UTC(),
	}, true); err != nil {
		log.Printf("⚠️ Failed to mirror background for user %s: %v", userID, err)
	}
	return nil
}

// Background returns the locally cached cosmetic selection.
func (b *SyncBridge) Background(ctx context.Context, userID string) (string, bool, error) {
	return b.kv.Get(ctx, userID, BackgroundKey)
}

var _ PetPusher = (*SyncBridge)(nil)
