package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"pet-companion-system/models"
)

var ErrPetInactive = errors.New("pet is inactive and cannot be fed")

// DefaultTickInterval matches the original client's one-second stat timer.
const DefaultTickInterval = 1 * time.Second

// VitalityService owns the three pet metrics. State is durable in the KV
// store under the petStats/lastUpdateTime keys; on every load the time that
// passed since the last persisted update is reconciled into decay, so a
// missed tick or a long offline stretch never leaves the metrics ahead of
// real time.
//
// Persistence writes are best-effort: a failed write is logged and in-memory
// state stands, because the next load self-heals from whatever was last
// durably saved plus elapsed time.
type VitalityService struct {
	kv KVStore

	mu       sync.Mutex
	sessions map[string]*vitalitySession

	task         *PeriodicTask
	tickInterval time.Duration

	// onInactive fires exactly once per zero-crossing, per session.
	onInactive func(userID string)

	now func() time.Time
}

type vitalitySession struct {
	state models.VitalityState
	// transitionFired guards the one-way inactive signal.
	transitionFired bool
}

func NewVitalityService(kv KVStore) *VitalityService {
	return &VitalityService{
		kv:           kv,
		sessions:     make(map[string]*vitalitySession),
		tickInterval: DefaultTickInterval,
		now:          time.Now,
	}
}

// OnInactive registers the zero-crossing callback (pet service + sync bridge
// wiring). Must be set before the scheduler starts.
func (s *VitalityService) OnInactive(fn func(userID string)) {
	s.onInactive = fn
}

// Load reads the persisted state for the user (defaults if absent), applies
// decay for the elapsed wall-clock time, clamps at 0 and re-persists with a
// fresh timestamp. On return the timestamp is current, so an immediate
// second load decays by ≈0.
func (s *VitalityService) Load(ctx context.Context, userID string) (models.VitalityState, error) {
	now := s.now()

	state, found, err := s.readPersisted(ctx, userID)
	if err != nil {
		return models.VitalityState{}, err
	}
	if !found {
		state = models.FullVitality(now.UnixMilli())
	} else {
		elapsed := float64(now.UnixMilli()-state.LastUpdateMillis) / 1000.0
		state = state.ApplyDecay(ComputeDecay(elapsed))
		state.LastUpdateMillis = now.UnixMilli()
	}

	s.mu.Lock()
	sess := s.sessionLocked(userID)
	sess.state = state
	active := state.Active()
	fire := !active && !sess.transitionFired
	if fire {
		sess.transitionFired = true
	}
	s.mu.Unlock()

	s.persist(ctx, userID, state)

	if fire && s.onInactive != nil {
		s.onInactive(userID)
	}
	return state, nil
}

// State returns the current in-memory state, loading from storage first if
// this user has no live session yet.
func (s *VitalityService) State(ctx context.Context, userID string) (models.VitalityState, error) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if ok {
		state := sess.state
		s.mu.Unlock()
		return state, nil
	}
	s.mu.Unlock()
	return s.Load(ctx, userID)
}

// Feed applies the fixed +5/+3/+2 deltas, capped at 100. Fails with
// ErrPetInactive when any metric already sits at 0 — the caller surfaces
// that to the user instead of silently ignoring the tap.
func (s *VitalityService) Feed(ctx context.Context, userID string) (models.VitalityState, error) {
	state, err := s.State(ctx, userID)
	if err != nil {
		return models.VitalityState{}, err
	}
	if !state.Active() {
		return state, ErrPetInactive
	}

	s.mu.Lock()
	sess := s.sessionLocked(userID)
	sess.state = sess.state.ApplyFeed()
	sess.state.LastUpdateMillis = s.now().UnixMilli()
	state = sess.state
	s.mu.Unlock()

	s.persist(ctx, userID, state)
	return state, nil
}

// Reset restores full vitality and re-arms the inactive transition. Called
// on adoption.
func (s *VitalityService) Reset(ctx context.Context, userID string) models.VitalityState {
	state := models.FullVitality(s.now().UnixMilli())

	s.mu.Lock()
	sess := s.sessionLocked(userID)
	sess.state = state
	sess.transitionFired = false
	s.mu.Unlock()

	s.persist(ctx, userID, state)
	return state
}

// Drop forgets the in-memory session (user signed out / screen torn down).
// Durable state stays; the next Load reconciles it.
func (s *VitalityService) Drop(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// StartDecayScheduler runs the periodic tick for every live session. The
// returned error only reflects scheduler construction; individual ticks log
// their own failures.
func (s *VitalityService) StartDecayScheduler() error {
	task, err := StartPeriodicTask(s.tickInterval, s.tickAll)
	if err != nil {
		return err
	}
	s.task = task
	log.Printf("✅ Vitality decay scheduler running (every %s)", s.tickInterval)
	return nil
}

// StopDecayScheduler cancels the tick job. Safe to call when never started.
func (s *VitalityService) StopDecayScheduler() {
	s.task.Stop()
}

func (s *VitalityService) tickAll() {
	decay := ComputeDecay(s.tickInterval.Seconds())
	nowMillis := s.now().UnixMilli()

	type fired struct{ userID string }
	var transitions []fired
	type persistItem struct {
		userID string
		state  models.VitalityState
	}
	var toPersist []persistItem

	s.mu.Lock()
	for userID, sess := range s.sessions {
		if !sess.state.Active() {
			continue
		}
		sess.state = sess.state.ApplyDecay(decay)
		sess.state.LastUpdateMillis = nowMillis
		toPersist = append(toPersist, persistItem{userID, sess.state})
		if !sess.state.Active() && !sess.transitionFired {
			sess.transitionFired = true
			transitions = append(transitions, fired{userID})
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, item := range toPersist {
		s.persist(ctx, item.userID, item.state)
	}
	for _, t := range transitions {
		if s.onInactive != nil {
			s.onInactive(t.userID)
		}
	}
}

// Tick applies one manual decay step for the user. The scheduler path goes
// through tickAll; this exists for flows that need a deterministic step.
func (s *VitalityService) Tick(ctx context.Context, userID string, interval time.Duration) (models.VitalityState, error) {
	state, err := s.State(ctx, userID)
	if err != nil {
		return models.VitalityState{}, err
	}
	if !state.Active() {
		return state, nil
	}

	s.mu.Lock()
	sess := s.sessionLocked(userID)
	sess.state = sess.state.ApplyDecay(ComputeDecay(interval.Seconds()))
	sess.state.LastUpdateMillis = s.now().UnixMilli()
	state = sess.state
	fire := !state.Active() && !sess.transitionFired
	if fire {
		sess.transitionFired = true
	}
	s.mu.Unlock()

	s.persist(ctx, userID, state)

	if fire && s.onInactive != nil {
		s.onInactive(userID)
	}
	return state, nil
}

func (s *VitalityService) sessionLocked(userID string) *vitalitySession {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &vitalitySession{}
		s.sessions[userID] = sess
	}
	return sess
}

type persistedStats struct {
	Happiness float64 `json:"happiness"`
	Energy    float64 `json:"energy"`
	Health    float64 `json:"health"`
}

func (s *VitalityService) readPersisted(ctx context.Context, userID string) (models.VitalityState, bool, error) {
	raw, found, err := s.kv.Get(ctx, userID, PetStatsKey)
	if err != nil || !found {
		return models.VitalityState{}, false, err
	}

	var stats persistedStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		log.Printf("⚠️ Corrupt petStats for user %s, resetting: %v", userID, err)
		return models.VitalityState{}, false, nil
	}

	state := models.VitalityState{
		Happiness: clamp100(stats.Happiness),
		Energy:    clamp100(stats.Energy),
		Health:    clamp100(stats.Health),
	}

	tsRaw, tsFound, err := s.kv.Get(ctx, userID, LastUpdateTimeKey)
	if err != nil {
		return models.VitalityState{}, false, err
	}
	if tsFound {
		if millis, perr := strconv.ParseInt(tsRaw, 10, 64); perr == nil {
			state.LastUpdateMillis = millis
		}
	}
	if state.LastUpdateMillis == 0 {
		// Legacy state without a timestamp: treat as fresh rather than
		// decaying from the epoch.
		state.LastUpdateMillis = s.now().UnixMilli()
	}
	return state, true, nil
}

func (s *VitalityService) persist(ctx context.Context, userID string, state models.VitalityState) {
	payload, _ := json.Marshal(persistedStats{
		Happiness: state.Happiness,
		Energy:    state.Energy,
		Health:    state.Health,
	})
	if err := s.kv.Set(ctx, userID, PetStatsKey, string(payload)); err != nil {
		log.Printf("⚠️ Failed to persist petStats for user %s: %v", userID, err)
	}
	if err := s.kv.Set(ctx, userID, LastUpdateTimeKey, strconv.FormatInt(state.LastUpdateMillis, 10)); err != nil {
		log.Printf("⚠️ Failed to persist lastUpdateTime for user %s: %v", userID, err)
	}
}

func clamp100(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
