package services

import (
	"context"
	"log"
	"sort"

	"gorm.io/gorm"

	"pet-companion-system/models"
)

// BuildLeaderboard turns the raw remote user list into a sorted board.
// Rules:
//   - each remote row's id comes from userId or id, whichever is present
//     (falling back to the document id);
//   - rows without a petSelection field are dropped as incomplete;
//   - the current user appears exactly once: a remote row with their id is
//     used as-is, otherwise the locally built row is appended so the caller
//     always sees their own number;
//   - descending token count, ties kept in input order.
func BuildLeaderboard(remoteUsers []DocumentSnapshot, current models.LeaderboardEntry) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, len(remoteUsers)+1)
	seenSelf := false

	for _, snap := range remoteUsers {
		doc := snap.Data
		id := doc.String("userId")
		if id == "" {
			id = doc.String("id")
		}
		if id == "" {
			id = snap.ID
		}

		if !doc.Has("petSelection") {
			continue
		}

		entry := models.LeaderboardEntry{
			ID:          id,
			DisplayName: doc.String("displayName"),
			PetName:     doc.String("petName"),
			HasPet:      doc.Bool("hasPet"),
		}
		if sel, ok := doc.Int64("petSelection"); ok {
			entry.PetSelection = models.PetType(sel)
		}
		if tokens, ok := doc.Int64("tokens"); ok {
			entry.Tokens = tokens
		}

		if id == current.ID {
			seenSelf = true
		}
		entries = append(entries, entry)
	}

	if !seenSelf {
		entries = append(entries, current)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Tokens > entries[j].Tokens
	})
	return entries
}

// LeaderboardService assembles the board from the remote user list, falling
// back to the locally mirrored users when the remote store is unreachable.
type LeaderboardService struct {
	docs   DocumentService
	db     *gorm.DB
	ledger TokenLedger
	pets   *PetService
}

func NewLeaderboardService(docs DocumentService, db *gorm.DB, ledger TokenLedger, pets *PetService) *LeaderboardService {
	return &LeaderboardService{docs: docs, db: db, ledger: ledger, pets: pets}
}

// Top returns the sorted leaderboard for the caller. The caller's own row
// uses the live local token balance when it has to be synthesized; rows for
// other users always carry the remote value.
func (s *LeaderboardService) Top(ctx context.Context, ident Identity) ([]models.LeaderboardEntry, error) {
	current, err := s.currentUserRow(ctx, ident)
	if err != nil {
		return nil, err
	}

	remote, err := s.docs.List(ctx, UsersCollection)
	if err != nil {
		log.Printf("⚠️ Remote user list failed, falling back to mirror: %v", err)
		remote, err = s.mirroredUsers()
		if err != nil {
			return nil, err
		}
	}

	return BuildLeaderboard(remote, current), nil
}

func (s *LeaderboardService) currentUserRow(ctx context.Context, ident Identity) (models.LeaderboardEntry, error) {
	rec, err := s.pets.Record(ctx, ident.UserID)
	if err != nil {
		return models.LeaderboardEntry{}, err
	}
	tokens, err := s.ledger.Balance(ident.UserID)
	if err != nil {
		return models.LeaderboardEntry{}, err
	}

	entry := models.LeaderboardEntry{
		ID:          ident.UserID,
		DisplayName: ident.DisplayName,
		PetName:     rec.PetName,
		HasPet:      rec.HasPet,
		Tokens:      tokens,
	}
	if rec.SelectedPet != nil {
		entry.PetSelection = *rec.SelectedPet
	}
	return entry, nil
}

// mirroredUsers rebuilds remote-shaped snapshots from the presence worker's
// mirror table so the board stays available during a remote outage.
func (s *LeaderboardService) mirroredUsers() ([]DocumentSnapshot, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var mirrors []models.UserMirror
	if err := s.db.Find(&mirrors).Error; err != nil {
		return nil, err
	}

	snaps := make([]DocumentSnapshot, 0, len(mirrors))
	for _, m := range mirrors {
		doc := Document{
			"userId":      m.ID,
			"displayName": m.DisplayName,
			"petName":     m.PetName,
			"hasPet":      m.HasPet,
			"tokens":      m.Tokens,
		}
		if m.PetSelection != nil {
			doc["petSelection"] = *m.PetSelection
		}
		snaps = append(snaps, DocumentSnapshot{ID: m.ID, Data: doc})
	}
	return snaps, nil
}
