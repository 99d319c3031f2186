package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"pet-companion-system/models"
)

// PetPusher is the slice of the sync bridge the pet service needs: request a
// remote propagation of the current pet fields. Pushes are best-effort and
// never a precondition for local success.
type PetPusher interface {
	PushPetInfo(ctx context.Context, userID string) error
	PushVitalityTransition(ctx context.Context, userID string) error
}

// PetService owns the PetRecord. Every mutation — adoption, release, the
// vitality zero-crossing — funnels through SetPetData, so the record
// invariant is checked in exactly one place and subscribers never observe a
// violating state.
type PetService struct {
	kv       KVStore
	vitality *VitalityService
	ledger   TokenLedger
	pusher   PetPusher

	mu      sync.Mutex
	records map[string]models.PetRecord
	subs    map[int]func(userID string, rec models.PetRecord)
	nextSub int
}

func NewPetService(kv KVStore, vitality *VitalityService, ledger TokenLedger) *PetService {
	return &PetService{
		kv:       kv,
		vitality: vitality,
		ledger:   ledger,
		records:  make(map[string]models.PetRecord),
		subs:     make(map[int]func(string, models.PetRecord)),
	}
}

// SetPusher wires the sync bridge after construction (the bridge also needs
// the pet service, so one side attaches late).
func (s *PetService) SetPusher(p PetPusher) {
	s.pusher = p
}

// Record returns the user's current pet record, loading it from local
// storage on first touch.
func (s *PetService) Record(ctx context.Context, userID string) (models.PetRecord, error) {
	s.mu.Lock()
	rec, ok := s.records[userID]
	s.mu.Unlock()
	if ok {
		return rec, nil
	}

	raw, found, err := s.kv.Get(ctx, userID, PetDataKey)
	if err != nil {
		return models.PetRecord{}, err
	}
	rec = models.NoPetRecord()
	if found {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Printf("⚠️ Corrupt pet data for user %s, resetting: %v", userID, err)
			rec = models.NoPetRecord()
		}
	}
	if err := rec.Validate(); err != nil {
		// Stored state predates the invariant; normalize rather than carry
		// the violation forward.
		log.Printf("⚠️ Stored pet record for user %s violates invariant (%v), resetting", userID, err)
		rec = models.NoPetRecord()
	}

	s.mu.Lock()
	s.records[userID] = rec
	s.mu.Unlock()
	return rec, nil
}

// SetPetData validates, persists and publishes the new record. Subscribers
// are notified after the in-memory state is committed, all with the same
// snapshot. A local persistence failure is logged and does not roll back.
func (s *PetService) SetPetData(ctx context.Context, userID string, rec models.PetRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	payload, _ := json.Marshal(rec)
	if err := s.kv.Set(ctx, userID, PetDataKey, string(payload)); err != nil {
		log.Printf("⚠️ Failed to persist pet data for user %s: %v", userID, err)
	}

	s.mu.Lock()
	s.records[userID] = rec
	subs := make([]func(string, models.PetRecord), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(userID, rec)
	}
	return nil
}

// Subscribe registers an observer for record changes. The returned func
// cancels it; callers own that cancellation on teardown.
func (s *PetService) Subscribe(fn func(userID string, rec models.PetRecord)) func() {
	s.mu.Lock()
	s.nextSub++
	token := s.nextSub
	s.subs[token] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, token)
		s.mu.Unlock()
	}
}

// Adopt runs the composed adoption flow: balance check, vitality reset,
// token debit, record commit, then a best-effort remote push. The debit sits
// directly before the record commit so the only partial-failure window is a
// crash between those two local steps; the remote push never gates success.
func (s *PetService) Adopt(ctx context.Context, userID string, petType models.PetType, name string, price int64) (models.PetRecord, error) {
	name = strings.TrimSpace(name)
	rec := models.PetRecord{
		HasPet:      true,
		SelectedPet: &petType,
		PetName:     name,
		IsConfirmed: true,
	}
	if err := rec.Validate(); err != nil {
		return models.PetRecord{}, err
	}

	balance, err := s.ledger.Balance(userID)
	if err != nil {
		return models.PetRecord{}, fmt.Errorf("failed to read token balance: %w", err)
	}
	if balance < price {
		return models.PetRecord{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientTokens, balance, price)
	}

	s.vitality.Reset(ctx, userID)

	if price > 0 {
		if _, err := s.ledger.Debit(userID, price); err != nil {
			return models.PetRecord{}, fmt.Errorf("token deduction failed: %w", err)
		}
	}

	if err := s.SetPetData(ctx, userID, rec); err != nil {
		return models.PetRecord{}, err
	}

	s.pushAsync(userID)

	log.Printf("🐾 User %s adopted a %s named %q (price %d)", userID, petType, name, price)
	return rec, nil
}

// FeedCost is the ledger charge for one feeding.
const FeedCost = 1

// Feed charges one token and applies the feed deltas. A missing or inactive
// pet is rejected before any charge; a failed charge leaves vitality
// untouched.
func (s *PetService) Feed(ctx context.Context, userID string) (models.VitalityState, error) {
	rec, err := s.Record(ctx, userID)
	if err != nil {
		return models.VitalityState{}, err
	}
	if !rec.HasPet {
		return models.VitalityState{}, ErrPetInactive
	}

	state, err := s.vitality.State(ctx, userID)
	if err != nil {
		return models.VitalityState{}, err
	}
	if !state.Active() {
		return state, ErrPetInactive
	}

	if _, err := s.ledger.Debit(userID, FeedCost); err != nil {
		return state, fmt.Errorf("feed charge failed: %w", err)
	}

	return s.vitality.Feed(ctx, userID)
}

// Release voluntarily gives up the pet, resetting the record to defaults.
func (s *PetService) Release(ctx context.Context, userID string) error {
	if err := s.SetPetData(ctx, userID, models.NoPetRecord()); err != nil {
		return err
	}
	s.pushTransitionAsync(userID)
	return nil
}

// HandleVitalityDepleted is wired to VitalityService.OnInactive. The record
// transitions one-way to the no-pet default; re-adoption is the only way
// back. A depleted session with no pet behind it is discarded without a
// remote write.
func (s *PetService) HandleVitalityDepleted(userID string) {
	ctx := context.Background()

	rec, err := s.Record(ctx, userID)
	if err == nil && !rec.HasPet {
		s.vitality.Drop(userID)
		return
	}

	if err := s.SetPetData(ctx, userID, models.NoPetRecord()); err != nil {
		log.Printf("⚠️ Failed to clear pet record after vitality depletion for user %s: %v", userID, err)
		return
	}
	s.vitality.Drop(userID)
	s.pushTransitionAsync(userID)
	log.Printf("💀 Pet for user %s ran out of vitality", userID)
}

func (s *PetService) pushAsync(userID string) {
	if s.pusher == nil {
		return
	}
	go func() {
		if err := s.pusher.PushPetInfo(context.Background(), userID); err != nil {
			log.Printf("⚠️ Remote pet info push failed for user %s: %v", userID, err)
		}
	}()
}

func (s *PetService) pushTransitionAsync(userID string) {
	if s.pusher == nil {
		return
	}
	go func() {
		if err := s.pusher.PushVitalityTransition(context.Background(), userID); err != nil {
			log.Printf("⚠️ Remote hasPet push failed for user %s: %v", userID, err)
		}
	}()
}

// Mood derives the display mood from vitality and the pet's profile: both
// happiness and energy above the type's threshold means "jumping".
func Mood(rec models.PetRecord, state models.VitalityState) string {
	if !rec.HasPet || !state.Active() {
		return "inactive"
	}
	prof := models.PetProfiles[*rec.SelectedPet]
	if state.Happiness > prof.JumpThreshold && state.Energy > prof.JumpThreshold {
		return "jumping"
	}
	return "idle"
}
