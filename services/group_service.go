package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"pet-companion-system/models"
)

var (
	ErrAlreadyInGroup   = errors.New("user is already a member of a study group")
	ErrAlreadyMember    = errors.New("invitee is already a member of this group")
	ErrGroupNotFound    = errors.New("study group not found")
	ErrNotGroupMember   = errors.New("user is not a member of this group")
	ErrInviteNotFound   = errors.New("invite not found")
	ErrInviteNotPending = errors.New("invite has already been answered")
	ErrNotInvitee       = errors.New("invite is addressed to a different user")
	ErrInviteeNotFound  = errors.New("invitee does not exist")
	ErrGroupNameEmpty   = errors.New("group name must not be empty")
)

// GroupCacheTTL is the freshness window for a user's cached membership list.
const GroupCacheTTL = 5 * time.Minute

// BatchOutcome is the aggregate result of a multi-invite send.
type BatchOutcome string

const (
	BatchAllSucceeded BatchOutcome = "all_succeeded"
	BatchPartial      BatchOutcome = "partial"
	BatchAllFailed    BatchOutcome = "all_failed"
)

// InviteFailure records one rejected invite inside a batch.
type InviteFailure struct {
	InviteeID string `json:"inviteeId"`
	Reason    string `json:"reason"`
}

// InviteBatchResult aggregates a non-atomic invite fan-out. Nothing is rolled
// back on partial failure; each invite stands or falls on its own.
type InviteBatchResult struct {
	Sent   []models.GroupInvite `json:"sent"`
	Failed []InviteFailure      `json:"failed"`
}

func (r InviteBatchResult) Outcome() BatchOutcome {
	switch {
	case len(r.Failed) == 0:
		return BatchAllSucceeded
	case len(r.Sent) == 0:
		return BatchAllFailed
	default:
		return BatchPartial
	}
}

// GroupService manages study-group membership against the remote store. The
// store offers no transactions, so every membership rule here is advisory
// check-then-write; the known races that leaves open are tolerated, not
// retried.
type GroupService struct {
	docs DocumentService

	mu    sync.Mutex
	cache map[string]*groupCacheEntry

	now   func() time.Time
	idGen func(name string) string
}

type groupCacheEntry struct {
	groups    []models.StudyGroup
	fetchedAt time.Time
}

func NewGroupService(docs DocumentService) *GroupService {
	return &GroupService{
		docs:  docs,
		cache: make(map[string]*groupCacheEntry),
		now:   time.Now,
		idGen: func(name string) string {
			return fmt.Sprintf("%s-%s", slug.Make(name), uuid.NewString()[:8])
		},
	}
}

// CreateGroup makes a new group with the caller as sole member. Callers
// already in a group are rejected before any write.
func (s *GroupService) CreateGroup(ctx context.Context, ident Identity, name string) (models.StudyGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.StudyGroup{}, ErrGroupNameEmpty
	}

	member, err := s.isMemberAnywhere(ctx, ident.UserID)
	if err != nil {
		return models.StudyGroup{}, err
	}
	if member {
		return models.StudyGroup{}, ErrAlreadyInGroup
	}

	now := s.now().UTC()
	group := models.StudyGroup{
		ID:          s.idGen(name),
		Name:        name,
		CreatedBy:   ident.UserID,
		CreatorName: ident.DisplayName,
		Members:     []string{ident.UserID},
		MemberNames: []models.MemberName{{ID: ident.UserID, Name: ident.DisplayName}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.docs.Set(ctx, GroupsCollection, group.ID, groupFields(group), false); err != nil {
		return models.StudyGroup{}, fmt.Errorf("failed to create group: %w", err)
	}

	s.invalidateCache(ident.UserID)
	log.Printf("✅ User %s created study group %q (%s)", ident.UserID, name, group.ID)
	return group, nil
}

// Group fetches a single group by id.
func (s *GroupService) Group(ctx context.Context, groupID string) (models.StudyGroup, error) {
	doc, err := s.docs.Get(ctx, GroupsCollection, groupID)
	if err != nil {
		if errors.Is(err, ErrDocNotFound) {
			return models.StudyGroup{}, ErrGroupNotFound
		}
		return models.StudyGroup{}, err
	}
	return decodeGroup(groupID, doc), nil
}

// GroupsForUser returns the caller's memberships, served from a cache with a
// five-minute freshness window (force bypasses it). When a refresh fails and
// stale data exists, the stale data is served; availability wins over strict
// freshness.
func (s *GroupService) GroupsForUser(ctx context.Context, userID string, force bool) ([]models.StudyGroup, error) {
	s.mu.Lock()
	entry, ok := s.cache[userID]
	if ok && !force && s.now().Sub(entry.fetchedAt) < GroupCacheTTL {
		groups := entry.groups
		s.mu.Unlock()
		return groups, nil
	}
	s.mu.Unlock()

	groups, err := s.membershipGroups(ctx, userID)
	if err != nil {
		if ok {
			log.Printf("⚠️ Group refresh failed for user %s, serving stale cache: %v", userID, err)
			return entry.groups, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[userID] = &groupCacheEntry{groups: groups, fetchedAt: s.now()}
	s.mu.Unlock()
	return groups, nil
}

// Invite creates a pending invite after checking the invitee against the
// just-fetched member snapshot. A concurrent join between that check and the
// write is a known staleness window and is not retried.
func (s *GroupService) Invite(ctx context.Context, inviter Identity, groupID, inviteeID string) (models.GroupInvite, error) {
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return models.GroupInvite{}, err
	}
	if !group.HasMember(inviter.UserID) {
		return models.GroupInvite{}, ErrNotGroupMember
	}
	if group.HasMember(inviteeID) {
		return models.GroupInvite{}, ErrAlreadyMember
	}

	inviteeDoc, err := s.docs.Get(ctx, UsersCollection, inviteeID)
	if err != nil {
		if errors.Is(err, ErrDocNotFound) {
			return models.GroupInvite{}, ErrInviteeNotFound
		}
		return models.GroupInvite{}, err
	}

	now := s.now().UTC()
	invite := models.GroupInvite{
		ID:          uuid.NewString(),
		GroupID:     group.ID,
		GroupName:   group.Name,
		InviterID:   inviter.UserID,
		InviterName: inviter.DisplayName,
		InviteeID:   inviteeID,
		InviteeName: inviteeDoc.String("displayName"),
		Status:      models.InviteStatusPending,
		CreatedAt:   now,
	}

	if err := s.docs.Set(ctx, InvitesCollection, invite.ID, inviteFields(invite), false); err != nil {
		return models.GroupInvite{}, fmt.Errorf("failed to create invite: %w", err)
	}
	return invite, nil
}

// SendInvites fans out invites independently. There is no rollback; the
// result aggregates what succeeded and what failed, and Outcome reports the
// three-way summary.
func (s *GroupService) SendInvites(ctx context.Context, inviter Identity, groupID string, inviteeIDs []string) InviteBatchResult {
	var result InviteBatchResult
	for _, inviteeID := range inviteeIDs {
		invite, err := s.Invite(ctx, inviter, groupID, inviteeID)
		if err != nil {
			log.Printf("⚠️ Invite to %s for group %s failed: %v", inviteeID, groupID, err)
			result.Failed = append(result.Failed, InviteFailure{InviteeID: inviteeID, Reason: err.Error()})
			continue
		}
		result.Sent = append(result.Sent, invite)
	}
	return result
}

// PendingInvites lists open invites addressed to the user.
func (s *GroupService) PendingInvites(ctx context.Context, userID string) ([]models.GroupInvite, error) {
	snaps, err := s.docs.Query(ctx, InvitesCollection, "inviteeId", OpEqual, userID)
	if err != nil {
		return nil, err
	}
	invites := make([]models.GroupInvite, 0, len(snaps))
	for _, snap := range snaps {
		invite := decodeInvite(snap.ID, snap.Data)
		if invite.Status != models.InviteStatusPending {
			continue
		}
		invites = append(invites, invite)
	}
	return invites, nil
}

// AcceptInvite commits the invite. Membership is re-checked immediately
// before committing because acceptance races with the user joining or
// creating a group through another path; a valid invite still fails with
// ErrAlreadyInGroup when that guard trips, and the existing membership is
// left untouched.
func (s *GroupService) AcceptInvite(ctx context.Context, ident Identity, inviteID string) (models.StudyGroup, error) {
	invite, err := s.invite(ctx, inviteID)
	if err != nil {
		return models.StudyGroup{}, err
	}
	if invite.InviteeID != ident.UserID {
		return models.StudyGroup{}, ErrNotInvitee
	}
	if invite.Status != models.InviteStatusPending {
		return models.StudyGroup{}, ErrInviteNotPending
	}

	member, err := s.isMemberAnywhere(ctx, ident.UserID)
	if err != nil {
		return models.StudyGroup{}, err
	}
	if member {
		return models.StudyGroup{}, ErrAlreadyInGroup
	}

	group, err := s.Group(ctx, invite.GroupID)
	if err != nil {
		return models.StudyGroup{}, err
	}

	now := s.now().UTC()
	if err := s.docs.Update(ctx, InvitesCollection, invite.ID, Document{
		"status":      string(models.InviteStatusAccepted),
		"respondedAt": now,
	}); err != nil {
		return models.StudyGroup{}, fmt.Errorf("failed to mark invite accepted: %w", err)
	}

	group.Members = append(group.Members, ident.UserID)
	group.MemberNames = append(group.MemberNames, models.MemberName{ID: ident.UserID, Name: ident.DisplayName})
	group.UpdatedAt = now

	if err := s.docs.Set(ctx, GroupsCollection, group.ID, Document{
		"members":     group.Members,
		"memberNames": memberNameDocs(group.MemberNames),
		"updatedAt":   now,
	}, true); err != nil {
		return models.StudyGroup{}, fmt.Errorf("failed to join group: %w", err)
	}

	s.invalidateCache(ident.UserID)
	log.Printf("✅ User %s joined study group %s via invite %s", ident.UserID, group.ID, invite.ID)
	return group, nil
}

// DeclineInvite marks the invite declined. Terminal; no resurrection.
func (s *GroupService) DeclineInvite(ctx context.Context, ident Identity, inviteID string) error {
	invite, err := s.invite(ctx, inviteID)
	if err != nil {
		return err
	}
	if invite.InviteeID != ident.UserID {
		return ErrNotInvitee
	}
	if invite.Status != models.InviteStatusPending {
		return ErrInviteNotPending
	}

	return s.docs.Update(ctx, InvitesCollection, invite.ID, Document{
		"status":      string(models.InviteStatusDeclined),
		"respondedAt": s.now().UTC(),
	})
}

// LeaveGroup removes the caller from the member set. When the departure
// empties the set the group document is deleted as part of the same logical
// operation and the result reports deleted=true.
func (s *GroupService) LeaveGroup(ctx context.Context, ident Identity, groupID string) (models.LeaveResult, error) {
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return models.LeaveResult{}, err
	}
	if !group.HasMember(ident.UserID) {
		return models.LeaveResult{}, ErrNotGroupMember
	}

	members := make([]string, 0, len(group.Members)-1)
	for _, m := range group.Members {
		if m != ident.UserID {
			members = append(members, m)
		}
	}
	memberNames := make([]models.MemberName, 0, len(group.MemberNames))
	for _, mn := range group.MemberNames {
		if mn.ID != ident.UserID {
			memberNames = append(memberNames, mn)
		}
	}

	if len(members) == 0 {
		if err := s.docs.Delete(ctx, GroupsCollection, group.ID); err != nil {
			return models.LeaveResult{}, fmt.Errorf("failed to delete empty group: %w", err)
		}
		s.invalidateCache(ident.UserID)
		log.Printf("🗑️ Study group %s deleted (last member %s left)", group.ID, ident.UserID)
		return models.LeaveResult{Deleted: true}, nil
	}

	if err := s.docs.Set(ctx, GroupsCollection, group.ID, Document{
		"members":     members,
		"memberNames": memberNameDocs(memberNames),
		"updatedAt":   s.now().UTC(),
	}, true); err != nil {
		return models.LeaveResult{}, fmt.Errorf("failed to leave group: %w", err)
	}

	s.invalidateCache(ident.UserID)
	return models.LeaveResult{Deleted: false}, nil
}

// SubscribeMembers streams the resolved member roster for a group. On every
// group-document change each member id is re-resolved to its display
// projection; members whose user document cannot be read come through with a
// placeholder name rather than dropping from the roster.
func (s *GroupService) SubscribeMembers(ctx context.Context, groupID string, fn func([]models.MemberProfile)) (func(), error) {
	return s.docs.Subscribe(GroupsCollection, groupID, func(doc Document) {
		group := decodeGroup(groupID, doc)
		fn(s.resolveMembers(ctx, group))
	})
}

// Roster resolves the current member projection once, without a subscription.
func (s *GroupService) Roster(ctx context.Context, groupID string) ([]models.MemberProfile, error) {
	group, err := s.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.resolveMembers(ctx, group), nil
}

func (s *GroupService) resolveMembers(ctx context.Context, group models.StudyGroup) []models.MemberProfile {
	profiles := make([]models.MemberProfile, 0, len(group.Members))
	for _, memberID := range group.Members {
		profile := models.MemberProfile{
			ID:          memberID,
			DisplayName: "Unknown User",
			IsOwner:     memberID == group.CreatedBy,
		}
		doc, err := s.docs.Get(ctx, UsersCollection, memberID)
		if err != nil {
			log.Printf("⚠️ Failed to resolve member %s in group %s: %v", memberID, group.ID, err)
			profiles = append(profiles, profile)
			continue
		}
		if name := doc.String("displayName"); name != "" {
			profile.DisplayName = name
		}
		profile.PetName = doc.String("petName")
		profile.HasPet = doc.Bool("hasPet")
		if sel, ok := doc.Int64("petSelection"); ok {
			profile.PetSelection = models.PetType(sel)
		}
		profiles = append(profiles, profile)
	}
	return profiles
}

func (s *GroupService) invite(ctx context.Context, inviteID string) (models.GroupInvite, error) {
	doc, err := s.docs.Get(ctx, InvitesCollection, inviteID)
	if err != nil {
		if errors.Is(err, ErrDocNotFound) {
			return models.GroupInvite{}, ErrInviteNotFound
		}
		return models.GroupInvite{}, err
	}
	return decodeInvite(inviteID, doc), nil
}

// isMemberAnywhere queries fresh, bypassing the cache: the single-group
// guard must not act on stale membership.
func (s *GroupService) isMemberAnywhere(ctx context.Context, userID string) (bool, error) {
	groups, err := s.membershipGroups(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(groups) > 0, nil
}

func (s *GroupService) membershipGroups(ctx context.Context, userID string) ([]models.StudyGroup, error) {
	snaps, err := s.docs.Query(ctx, GroupsCollection, "members", OpArrayContains, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]models.StudyGroup, 0, len(snaps))
	for _, snap := range snaps {
		groups = append(groups, decodeGroup(snap.ID, snap.Data))
	}
	return groups, nil
}

func (s *GroupService) invalidateCache(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

func groupFields(g models.StudyGroup) Document {
	return Document{
		"name":        g.Name,
		"createdBy":   g.CreatedBy,
		"creatorName": g.CreatorName,
		"members":     g.Members,
		"memberNames": memberNameDocs(g.MemberNames),
		"createdAt":   g.CreatedAt,
		"updatedAt":   g.UpdatedAt,
	}
}

func inviteFields(i models.GroupInvite) Document {
	return Document{
		"groupId":     i.GroupID,
		"groupName":   i.GroupName,
		"inviterId":   i.InviterID,
		"inviterName": i.InviterName,
		"inviteeId":   i.InviteeID,
		"inviteeName": i.InviteeName,
		"status":      string(i.Status),
		"createdAt":   i.CreatedAt,
	}
}

func memberNameDocs(names []models.MemberName) []interface{} {
	out := make([]interface{}, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]interface{}{"id": n.ID, "name": n.Name})
	}
	return out
}

func decodeGroup(id string, doc Document) models.StudyGroup {
	group := models.StudyGroup{
		ID:        id,
		Name:      doc.String("name"),
		CreatedBy: doc.String("createdBy"),
		Members:   doc.StringSlice("members"),
	}
	group.CreatorName = doc.String("creatorName")
	if t, ok := doc.Time("createdAt"); ok {
		group.CreatedAt = t
	}
	if t, ok := doc.Time("updatedAt"); ok {
		group.UpdatedAt = t
	}
	if raw, ok := doc["memberNames"].([]interface{}); ok {
		for _, e := range raw {
			m, ok := e.(map[string]interface{})
			if !ok {
				continue
			}
			name := models.MemberName{}
			if v, ok := m["id"].(string); ok {
				name.ID = v
			}
			if v, ok := m["name"].(string); ok {
				name.Name = v
			}
			group.MemberNames = append(group.MemberNames, name)
		}
	}
	return group
}

func decodeInvite(id string, doc Document) models.GroupInvite {
	invite := models.GroupInvite{
		ID:          id,
		GroupID:     doc.String("groupId"),
		GroupName:   doc.String("groupName"),
		InviterID:   doc.String("inviterId"),
		InviterName: doc.String("inviterName"),
		InviteeID:   doc.String("inviteeId"),
		InviteeName: doc.String("inviteeName"),
		Status:      models.InviteStatus(doc.String("status")),
	}
	if t, ok := doc.Time("createdAt"); ok {
		invite.CreatedAt = t
	}
	if t, ok := doc.Time("respondedAt"); ok {
		invite.RespondedAt = &t
	}
	return invite
}
