package models

// LeaderboardEntry is the derived ranking row — never persisted, rebuilt on
// every fetch by merging the remote roster with the caller's live balance.
type LeaderboardEntry struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"displayName"`
	PetName      string  `json:"petName"`
	PetSelection PetType `json:"petSelection"`
	Tokens       int64   `json:"tokens"`
	HasPet       bool    `json:"hasPet"`
}
