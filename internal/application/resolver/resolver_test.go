package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDirectory is a mock implementation of port.UserDirectory
type mockDirectory struct {
	roles map[string][]string
	calls int
	err   error
}

func (m *mockDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.roles[role], nil
}

func (m *mockDirectory) RolesOf(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (m *mockDirectory) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	return nil, nil
}

// mockLogger records error messages
type mockLogger struct {
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.errors = append(m.errors, msg)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		roles   map[string][]string
		step    ladder.Step
		want    string
		wantErr error
	}{
		{
			name:  "role holder",
			roles: map[string][]string{"risk_analyst": {"u-a", "u-b"}, "super_admin": {"root"}},
			step:  ladder.StepRiskAnalyst,
			want:  "u-a",
		},
		{
			name:  "falls back to super admin",
			roles: map[string][]string{"super_admin": {"root"}},
			step:  ladder.StepDepartmentHeadRisk,
			want:  "root",
		},
		{
			name:    "nobody",
			roles:   map[string][]string{},
			step:    ladder.StepDepartmentHeadBusiness,
			wantErr: ErrNoEligibleApprover,
		},
		{
			name:    "unknown step",
			roles:   map[string][]string{},
			step:    ladder.Step("UNIT_BISNIS"),
			wantErr: ErrUnknownStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&mockDirectory{roles: tt.roles}, cache.Noop{})
			got, err := r.Resolve(context.Background(), tt.step)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_LogsConfigurationError(t *testing.T) {
	logger := &mockLogger{}
	r := New(&mockDirectory{roles: map[string][]string{}}, nil, WithLogger(logger))

	_, err := r.Resolve(context.Background(), ladder.StepRiskAnalyst)
	require.ErrorIs(t, err, ErrNoEligibleApprover)
	assert.Len(t, logger.errors, 1)
}

func TestResolve_CustomSuperAdminRole(t *testing.T) {
	dir := &mockDirectory{roles: map[string][]string{"root": {"admin-1"}, "super_admin": {"ignored"}}}
	r := New(dir, nil, WithSuperAdminRole("root"))

	got, err := r.Resolve(context.Background(), ladder.StepRiskAnalyst)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", got)
}

func TestResolve_DirectoryError(t *testing.T) {
	boom := errors.New("directory down")
	r := New(&mockDirectory{err: boom}, nil)

	_, err := r.Resolve(context.Background(), ladder.StepRiskAnalyst)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoEligibleApprover)
}

func TestResolve_CachesAndInvalidates(t *testing.T) {
	dir := &mockDirectory{roles: map[string][]string{"risk_analyst": {"u-a"}}}
	r := New(dir, cache.NewLRU(cache.Config{}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, ladder.StepRiskAnalyst)
		require.NoError(t, err)
		assert.Equal(t, "u-a", got)
	}
	assert.Equal(t, 1, dir.calls)

	dir.roles["risk_analyst"] = []string{"u-b"}
	r.Invalidate()

	got, err := r.Resolve(ctx, ladder.StepRiskAnalyst)
	require.NoError(t, err)
	assert.Equal(t, "u-b", got)
	assert.Equal(t, 2, dir.calls)
}
