package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/errs"
	"kanban/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "kanban.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustUser(t *testing.T, s *Store, email, name string) models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, name, "hash")
	require.NoError(t, err)
	return u
}

func mustProject(t *testing.T, s *Store, owner models.User) models.Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), "Board", "", owner.ID)
	require.NoError(t, err)
	return p
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "ada@example.com", "Ada")
	_, err := s.CreateUser(ctx, "ADA@example.com", "Other Ada", "hash")
	require.Error(t, err)
	assert.True(t, errs.IsConflict(err))

	found, hash, err := s.GetUserByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
	assert.Equal(t, "hash", hash)

	_, _, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.True(t, errs.IsNotFound(err))
}

func TestCreateProjectMakesOwnerMember(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Owner")

	p := mustProject(t, s, owner)

	assert.Equal(t, owner.ID, p.Owner.ID)
	require.Len(t, p.Members, 1)
	assert.Equal(t, owner.ID, p.Members[0].ID)

	member, err := s.IsMember(ctx, p.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, member)

	ownerID, err := s.OwnerOf(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, ownerID)
}

func TestCreateProjectRequiresName(t *testing.T) {
	s := newTestStore(t)
	owner := mustUser(t, s, "owner@example.com", "Owner")

	_, err := s.CreateProject(context.Background(), "  ", "", owner.ID)
	assert.True(t, errs.IsInvalidRequest(err))
}

func TestMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Owner")
	guest := mustUser(t, s, "guest@example.com", "Guest")
	p := mustProject(t, s, owner)

	member, err := s.IsMember(ctx, p.ID, guest.ID)
	require.NoError(t, err)
	assert.False(t, member)

	require.NoError(t, s.AddMember(ctx, p.ID, guest.ID))
	err = s.AddMember(ctx, p.ID, guest.ID)
	assert.True(t, errs.IsForbidden(err))

	invited, err := s.ListInvitedProjects(ctx, guest.ID)
	require.NoError(t, err)
	require.Len(t, invited, 1)
	assert.Equal(t, p.ID, invited[0].ID)

	owned, err := s.ListOwnedProjects(ctx, guest.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)

	require.NoError(t, s.RemoveMember(ctx, p.ID, guest.ID))
	assert.True(t, errs.IsNotFound(s.RemoveMember(ctx, p.ID, guest.ID)))

	_, err = s.IsMember(ctx, "missing", guest.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteProjectCascadesCards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com", "Owner")
	p := mustProject(t, s, owner)

	card, err := s.InsertCard(ctx, p.ID, models.CardFields{Title: "Doomed"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetCard(ctx, card.ID)
	assert.True(t, errs.IsNotFound(err))
	assert.True(t, errs.IsNotFound(s.DeleteProject(ctx, p.ID)))
}
