package models

import "time"

// MemberName is the denormalized {id,name} pair kept on the group document so
// rosters render without a per-member lookup.
type MemberName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StudyGroup mirrors a studyGroups document. The remote store owns it; local
// copies are per-request snapshots. Members is never empty while the document
// exists — the coordinator deletes the document when the last member leaves.
type StudyGroup struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	CreatedBy   string       `json:"createdBy"`
	CreatorName string       `json:"creatorName"`
	Members     []string     `json:"members"`
	MemberNames []MemberName `json:"memberNames"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// HasMember reports whether the given user id is in the member set.
func (g StudyGroup) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// InviteStatus is terminal once accepted or declined.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusDeclined InviteStatus = "declined"
)

// GroupInvite mirrors a groupInvites document.
type GroupInvite struct {
	ID          string       `json:"id"`
	GroupID     string       `json:"groupId"`
	GroupName   string       `json:"groupName"`
	InviterID   string       `json:"inviterId"`
	InviterName string       `json:"inviterName"`
	InviteeID   string       `json:"inviteeId"`
	InviteeName string       `json:"inviteeName"`
	Status      InviteStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	RespondedAt *time.Time   `json:"respondedAt,omitempty"`
}

// MemberProfile is the display projection the roster subscription resolves
// for each member id.
type MemberProfile struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"displayName"`
	PetName      string  `json:"petName"`
	PetSelection PetType `json:"petSelection"`
	HasPet       bool    `json:"hasPet"`
	IsOwner      bool    `json:"isOwner"`
}

// LeaveResult reports whether departure deleted the group (last member out).
type LeaveResult struct {
	Deleted bool `json:"deleted"`
}
