// Copyright 2026 Ahmad
// SPDX-License-Identifier: MIT

package possync

import "context"

// PermissionChecker gates API operations by capability. Implementations
// receive the authenticated user and one of the Cap* constants.
type PermissionChecker interface {
	Allow(ctx context.Context, user, capability string) bool
}

// AllowAllPermissions grants every capability to every user. It is the
// default when no checker is installed.
type AllowAllPermissions struct{}

func (AllowAllPermissions) Allow(ctx context.Context, user, capability string) bool {
	return true
}

// RolePermissions is a static capability map keyed by user. Users absent from
// the map fall back to the default capability set.
type RolePermissions struct {
	Users   map[string][]string
	Default []string
}

func (p *RolePermissions) Allow(ctx context.Context, user, capability string) bool {
	caps, ok := p.Users[user]
	if !ok {
		caps = p.Default
	}
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}

// Allowed consults the installed permission checker.
func (s *SyncService) Allowed(ctx context.Context, user, capability string) bool {
	s.mu.RLock()
	p := s.perms
	s.mu.RUnlock()
	return p.Allow(ctx, user, capability)
}
