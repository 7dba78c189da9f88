// Package resolver maps a ladder step to the user who should decide it.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// ErrNoEligibleApprover is returned when neither the step role nor the
// super-admin role has any holder. It is a configuration problem, not transient.
var ErrNoEligibleApprover = errors.New("no eligible approver")

// ErrUnknownStep is returned for a step that is not on the ladder
var ErrUnknownStep = errors.New("unknown approval step")

const cachePrefix = "resolve:"

// Resolver resolves the assignee of a step
type Resolver interface {
	Resolve(ctx context.Context, step ladder.Step) (string, error)
	// Invalidate drops cached assignments; call it after directory changes.
	Invalidate()
}

type resolverImpl struct {
	directory      port.UserDirectory
	cache          port.Cache
	superAdminRole string
	logger         port.Logger
}

// Option configures a Resolver
type Option func(*resolverImpl)

// WithSuperAdminRole overrides the fallback role
func WithSuperAdminRole(role string) Option {
	return func(r *resolverImpl) {
		if role != "" {
			r.superAdminRole = role
		}
	}
}

// WithLogger sets the logger used to report configuration errors
func WithLogger(logger port.Logger) Option {
	return func(r *resolverImpl) {
		r.logger = logger
	}
}

// New creates a resolver backed by directory. cache may be shared with other
// components; the resolver only touches keys under its own prefix.
func New(directory port.UserDirectory, cache port.Cache, opts ...Option) Resolver {
	r := &resolverImpl{
		directory:      directory,
		cache:          cache,
		superAdminRole: ladder.RoleSuperAdmin,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *resolverImpl) Resolve(ctx context.Context, step ladder.Step) (string, error) {
	role := ladder.Role(step)
	if role == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	key := cachePrefix + step.String()
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if userID, ok := v.(string); ok && userID != "" {
				return userID, nil
			}
		}
	}

	for _, candidate := range []string{role, r.superAdminRole} {
		users, err := r.directory.UsersWithRole(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("lookup role %s: %w", candidate, err)
		}
		if len(users) > 0 {
			if r.cache != nil {
				r.cache.Set(key, users[0])
			}
			return users[0], nil
		}
	}

	if r.logger != nil {
		r.logger.Error("No eligible approver configured",
			"step", step.String(), "role", role, "fallback_role", r.superAdminRole)
	}
	return "", fmt.Errorf("%w: step %s requires role %s and no %s exists",
		ErrNoEligibleApprover, step, role, r.superAdminRole)
}

func (r *resolverImpl) Invalidate() {
	if r.cache != nil {
		r.cache.DeletePrefix(cachePrefix)
	}
}
