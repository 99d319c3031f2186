package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-companion-system/models"
)

func newTestGroupService(t *testing.T) (*GroupService, *MemoryDocumentService, *fakeClock) {
	t.Helper()
	docs := NewMemoryDocumentService()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewGroupService(docs)
	svc.now = clock.Now
	nextID := 0
	svc.idGen = func(name string) string {
		nextID++
		return fmt.Sprintf("%s-%d", name, nextID)
	}
	return svc, docs, clock
}

func seedUser(t *testing.T, docs *MemoryDocumentService, id, name string) {
	t.Helper()
	require.NoError(t, docs.Set(context.Background(), UsersCollection, id, Document{
		"displayName":  name,
		"hasPet":       true,
		"petName":      name + "'s pet",
		"petSelection": 0,
	}, false))
}

func TestCreateGroupMakesSoleMember(t *testing.T) {
	svc, _, _ := newTestGroupService(t)

	group, err := svc.CreateGroup(context.Background(), Identity{UserID: "u1", DisplayName: "Ada"}, "  Study Buddies ")
	require.NoError(t, err)

	assert.Equal(t, "Study Buddies", group.Name)
	assert.Equal(t, []string{"u1"}, group.Members)
	require.Len(t, group.MemberNames, 1)
	assert.Equal(t, "Ada", group.MemberNames[0].Name)
	assert.Equal(t, "u1", group.CreatedBy)
}

func TestCreateGroupRejectsSecondMembership(t *testing.T) {
	svc, _, _ := newTestGroupService(t)
	ctx := context.Background()
	ident := Identity{UserID: "u1", DisplayName: "Ada"}

	_, err := svc.CreateGroup(ctx, ident, "First")
	require.NoError(t, err)

	_, err = svc.CreateGroup(ctx, ident, "Second")
	assert.ErrorIs(t, err, ErrAlreadyInGroup)
}

func TestCreateGroupRejectsEmptyName(t *testing.T) {
	svc, _, _ := newTestGroupService(t)

	_, err := svc.CreateGroup(context.Background(), Identity{UserID: "u1"}, "   ")
	assert.ErrorIs(t, err, ErrGroupNameEmpty)
}

func TestInviteAndAccept(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	bob := Identity{UserID: "u2", DisplayName: "Bob"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, invite.Status)
	assert.Equal(t, "Bob", invite.InviteeName)

	pending, err := svc.PendingInvites(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	joined, err := svc.AcceptInvite(ctx, bob, invite.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, joined.Members)

	// The invite is terminal now.
	pending, err = svc.PendingInvites(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInviteRejectsExistingMember(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, Identity{UserID: "u2", DisplayName: "Bob"}, invite.ID)
	require.NoError(t, err)

	_, err = svc.Invite(ctx, ada, group.ID, "u2")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestInviteRejectsUnknownInvitee(t *testing.T) {
	svc, _, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	_, err = svc.Invite(ctx, ada, group.ID, "ghost")
	assert.ErrorIs(t, err, ErrInviteeNotFound)
}

func TestInviteRequiresInviterMembership(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	seedUser(t, docs, "u3", "Cam")

	group, err := svc.CreateGroup(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, "Buddies")
	require.NoError(t, err)

	_, err = svc.Invite(ctx, Identity{UserID: "u2", DisplayName: "Bob"}, group.ID, "u3")
	assert.ErrorIs(t, err, ErrNotGroupMember)
}

func TestAcceptGuardsAgainstConcurrentJoin(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	bob := Identity{UserID: "u2", DisplayName: "Bob"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)

	// Bob independently creates his own group while the invite is pending.
	bobsGroup, err := svc.CreateGroup(ctx, bob, "Solo")
	require.NoError(t, err)

	_, err = svc.AcceptInvite(ctx, bob, invite.ID)
	assert.ErrorIs(t, err, ErrAlreadyInGroup)

	// Existing membership is untouched and the original group did not gain
	// the invitee.
	current, err := svc.Group(ctx, bobsGroup.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, current.Members)

	original, err := svc.Group(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, original.Members)
}

func TestAcceptRejectsWrongInvitee(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)

	_, err = svc.AcceptInvite(ctx, Identity{UserID: "u3", DisplayName: "Cam"}, invite.ID)
	assert.ErrorIs(t, err, ErrNotInvitee)
}

func TestDeclineIsTerminal(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	bob := Identity{UserID: "u2", DisplayName: "Bob"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)

	require.NoError(t, svc.DeclineInvite(ctx, bob, invite.ID))

	_, err = svc.AcceptInvite(ctx, bob, invite.ID)
	assert.ErrorIs(t, err, ErrInviteNotPending)

	err = svc.DeclineInvite(ctx, bob, invite.ID)
	assert.ErrorIs(t, err, ErrInviteNotPending)
}

func TestSendInvitesAggregatesPartialFailure(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	seedUser(t, docs, "u2", "Bob")
	seedUser(t, docs, "u3", "Cam")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, Identity{UserID: "u2", DisplayName: "Bob"}, invite.ID)
	require.NoError(t, err)

	// u2 is now a member, ghost does not exist, u3 is fine.
	result := svc.SendInvites(ctx, ada, group.ID, []string{"u2", "ghost", "u3"})

	assert.Equal(t, BatchPartial, result.Outcome())
	require.Len(t, result.Sent, 1)
	assert.Equal(t, "u3", result.Sent[0].InviteeID)
	assert.Len(t, result.Failed, 2)
}

func TestSendInvitesOutcomes(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	all := svc.SendInvites(ctx, ada, group.ID, []string{"u2"})
	assert.Equal(t, BatchAllSucceeded, all.Outcome())

	failed := svc.SendInvites(ctx, ada, group.ID, []string{"ghost1", "ghost2"})
	assert.Equal(t, BatchAllFailed, failed.Outcome())
}

func TestLeaveGroupKeepsOthers(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	bob := Identity{UserID: "u2", DisplayName: "Bob"}
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, bob, invite.ID)
	require.NoError(t, err)

	result, err := svc.LeaveGroup(ctx, ada, group.ID)
	require.NoError(t, err)
	assert.False(t, result.Deleted)

	remaining, err := svc.Group(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, remaining.Members)
	require.Len(t, remaining.MemberNames, 1)
	assert.Equal(t, "Bob", remaining.MemberNames[0].Name)
}

func TestLastMemberLeaveDeletesGroup(t *testing.T) {
	svc, _, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	result, err := svc.LeaveGroup(ctx, ada, group.ID)
	require.NoError(t, err)
	assert.True(t, result.Deleted)

	_, err = svc.Group(ctx, group.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGroupsForUserCachesWithinWindow(t *testing.T) {
	svc, docs, clock := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	first, err := svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write bypassing the coordinator is invisible until the window lapses.
	require.NoError(t, docs.Delete(ctx, GroupsCollection, group.ID))

	cached, err := svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	clock.Advance(GroupCacheTTL + time.Second)
	fresh, err := svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

// flakyQueryDocs fails queries on demand while reads and writes keep working.
type flakyQueryDocs struct {
	DocumentService
	failQueries bool
}

func (d *flakyQueryDocs) Query(ctx context.Context, collection, field string, op QueryOp, value interface{}) ([]DocumentSnapshot, error) {
	if d.failQueries {
		return nil, fmt.Errorf("document service unavailable")
	}
	return d.DocumentService.Query(ctx, collection, field, op, value)
}

func TestGroupsForUserServesStaleCacheOnRefreshFailure(t *testing.T) {
	flaky := &flakyQueryDocs{DocumentService: NewMemoryDocumentService()}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewGroupService(flaky)
	svc.now = clock.Now
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, "Buddies")
	require.NoError(t, err)

	first, err := svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The store goes down after the window lapses: the stale memberships are
	// still served.
	clock.Advance(GroupCacheTTL + time.Second)
	flaky.failQueries = true

	stale, err := svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "Buddies", stale[0].Name)

	// A user with nothing cached gets the error.
	_, err = svc.GroupsForUser(ctx, "u2", false)
	assert.Error(t, err)
}

func TestGroupsForUserForceBypassesCache(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, "Buddies")
	require.NoError(t, err)

	_, err = svc.GroupsForUser(ctx, "u1", false)
	require.NoError(t, err)

	require.NoError(t, docs.Delete(ctx, GroupsCollection, group.ID))

	fresh, err := svc.GroupsForUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestRosterProjection(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	bob := Identity{UserID: "u2", DisplayName: "Bob"}
	seedUser(t, docs, "u1", "Ada")
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)
	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, bob, invite.ID)
	require.NoError(t, err)

	roster, err := svc.Roster(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)

	assert.Equal(t, "Ada", roster[0].DisplayName)
	assert.True(t, roster[0].IsOwner)
	assert.Equal(t, "Bob", roster[1].DisplayName)
	assert.False(t, roster[1].IsOwner)
	assert.True(t, roster[1].HasPet)
	assert.Equal(t, "Bob's pet", roster[1].PetName)
}

func TestRosterUnknownMemberGetsPlaceholder(t *testing.T) {
	svc, _, _ := newTestGroupService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, Identity{UserID: "u1", DisplayName: "Ada"}, "Buddies")
	require.NoError(t, err)

	// u1 has no user document: the roster keeps the slot with a placeholder.
	roster, err := svc.Roster(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Unknown User", roster[0].DisplayName)
}

func TestSubscribeMembersDeliversAndCancels(t *testing.T) {
	svc, docs, _ := newTestGroupService(t)
	ctx := context.Background()
	ada := Identity{UserID: "u1", DisplayName: "Ada"}
	seedUser(t, docs, "u1", "Ada")
	seedUser(t, docs, "u2", "Bob")

	group, err := svc.CreateGroup(ctx, ada, "Buddies")
	require.NoError(t, err)

	var rosters [][]models.MemberProfile
	cancel, err := svc.SubscribeMembers(ctx, group.ID, func(roster []models.MemberProfile) {
		rosters = append(rosters, roster)
	})
	require.NoError(t, err)

	// Initial snapshot delivery.
	require.Len(t, rosters, 1)
	assert.Len(t, rosters[0], 1)

	invite, err := svc.Invite(ctx, ada, group.ID, "u2")
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, Identity{UserID: "u2", DisplayName: "Bob"}, invite.ID)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(rosters), 2)
	assert.Len(t, rosters[len(rosters)-1], 2)

	// After cancellation the stream is silent.
	cancel()
	seen := len(rosters)
	_, err = svc.LeaveGroup(ctx, Identity{UserID: "u2", DisplayName: "Bob"}, group.ID)
	require.NoError(t, err)
	assert.Equal(t, seen, len(rosters))
}
