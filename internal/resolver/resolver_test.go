package resolver

import (
	"context"
	"errors"
	"testing"

	"procureflow/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingDirectory struct{}

func (failingDirectory) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return nil, errors.New("ldap timeout")
}

func (failingDirectory) HasRole(ctx context.Context, user, role string) (bool, error) {
	return false, errors.New("ldap timeout")
}

func TestResolveExplicitUsersCopies(t *testing.T) {
	r := NewResolver(NewStaticDirectory(nil))
	tpl := &domain.StageTemplate{ApproverUsers: []string{"alice", "bob"}}

	users, err := r.Resolve(context.Background(), tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	users[0] = "mallory"
	assert.Equal(t, "alice", tpl.ApproverUsers[0], "resolved slice must not alias the template")
}

func TestResolveRole(t *testing.T) {
	r := NewResolver(NewStaticDirectory(map[string][]string{
		"manager": {"alice", "bob"},
	}))

	users, err := r.Resolve(context.Background(), &domain.StageTemplate{ApproverRole: "manager"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	users, err = r.Resolve(context.Background(), &domain.StageTemplate{ApproverRole: "legal"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestResolveExplicitUsersWinOverRole(t *testing.T) {
	r := NewResolver(failingDirectory{})
	tpl := &domain.StageTemplate{ApproverRole: "manager", ApproverUsers: []string{"carol"}}

	users, err := r.Resolve(context.Background(), tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, users)
}

func TestResolveDirectoryFailure(t *testing.T) {
	r := NewResolver(failingDirectory{})

	_, err := r.Resolve(context.Background(), &domain.StageTemplate{ApproverRole: "manager"})
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestStaticDirectoryHasRole(t *testing.T) {
	d := NewStaticDirectory(map[string][]string{"finance": {"carol"}})

	ok, err := d.HasRole(context.Background(), "carol", "finance")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.HasRole(context.Background(), "alice", "finance")
	require.NoError(t, err)
	assert.False(t, ok)
}
