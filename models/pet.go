package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PetType is the three-way pet selection. Values match the numeric
// petSelection field stored on remote user documents.
type PetType int

const (
	PetCorgi      PetType = 0
	PetPomeranian PetType = 1
	PetPug        PetType = 2
)

// PetProfile bundles the per-type display/behavior data so callers dispatch
// through a lookup instead of scattered switches.
type PetProfile struct {
	Name     string `json:"name"`
	AssetKey string `json:"asset_key"`
	// Both happiness and energy must exceed this for the "jumping" mood.
	JumpThreshold float64 `json:"jump_threshold"`
}

var PetProfiles = map[PetType]PetProfile{
	PetCorgi:      {Name: "Corgi", AssetKey: "corgi", JumpThreshold: 70},
	PetPomeranian: {Name: "Pomeranian", AssetKey: "pomeranian", JumpThreshold: 70},
	PetPug:        {Name: "Pug", AssetKey: "pug", JumpThreshold: 70},
}

func (p PetType) Valid() bool {
	_, ok := PetProfiles[p]
	return ok
}

func (p PetType) String() string {
	if prof, ok := PetProfiles[p]; ok {
		return prof.Name
	}
	return fmt.Sprintf("PetType(%d)", int(p))
}

// MaxPetNameLen bounds user-supplied pet names.
const MaxPetNameLen = 20

// PetRecord is the user's pet selection state. Owned by the pet service;
// every mutation goes through PetService.SetPetData.
type PetRecord struct {
	HasPet      bool     `json:"hasPet"`
	SelectedPet *PetType `json:"selectedPet"`
	PetName     string   `json:"petName"`
	IsConfirmed bool     `json:"isConfirmed"`
}

// NoPetRecord is the default record for a user without a pet.
func NoPetRecord() PetRecord {
	return PetRecord{}
}

var (
	ErrInvalidPetRecord = errors.New("invalid pet record")
	ErrInvalidPetType   = errors.New("invalid pet type")
	ErrPetNameRequired  = errors.New("pet name required")
	ErrPetNameTooLong   = errors.New("pet name too long")
)

// Validate enforces the record invariant: no pet means no selection, no name
// and no confirmation.
func (r PetRecord) Validate() error {
	if !r.HasPet {
		if r.SelectedPet != nil || r.PetName != "" || r.IsConfirmed {
			return fmt.Errorf("%w: fields must be cleared when hasPet=false", ErrInvalidPetRecord)
		}
		return nil
	}
	if r.SelectedPet == nil {
		return fmt.Errorf("%w: selectedPet required when hasPet=true", ErrInvalidPetRecord)
	}
	if !r.SelectedPet.Valid() {
		return ErrInvalidPetType
	}
	if strings.TrimSpace(r.PetName) == "" {
		return ErrPetNameRequired
	}
	if utf8.RuneCountInString(r.PetName) > MaxPetNameLen {
		return ErrPetNameTooLong
	}
	return nil
}
