package resolver

import (
	"context"
	"fmt"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"
)

// Resolver maps a stage's abstract assignment (role or explicit user list) to
// concrete user ids at activation time.
type Resolver struct {
	directory ports.ApproverDirectory
}

func NewResolver(directory ports.ApproverDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the assignee set for a stage. A directory failure surfaces
// as ErrDirectoryUnavailable so activation fails explicitly instead of
// silently assigning zero approvers.
func (r *Resolver) Resolve(ctx context.Context, tpl *domain.StageTemplate) ([]string, error) {
	if len(tpl.ApproverUsers) > 0 {
		users := make([]string, len(tpl.ApproverUsers))
		copy(users, tpl.ApproverUsers)
		return users, nil
	}

	users, err := r.directory.ResolveRole(ctx, tpl.ApproverRole)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving role %q: %v", domain.ErrDirectoryUnavailable, tpl.ApproverRole, err)
	}
	return users, nil
}

// StaticDirectory is a map-backed ApproverDirectory for wiring and tests.
// Production deployments swap in the real user/role service here.
type StaticDirectory struct {
	roles map[string][]string
}

func NewStaticDirectory(roles map[string][]string) *StaticDirectory {
	return &StaticDirectory{roles: roles}
}

func (d *StaticDirectory) ResolveRole(ctx context.Context, role string) ([]string, error) {
	users := d.roles[role]
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}

func (d *StaticDirectory) HasRole(ctx context.Context, user, role string) (bool, error) {
	for _, u := range d.roles[role] {
		if u == user {
			return true, nil
		}
	}
	return false, nil
}
