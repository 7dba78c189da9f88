// Package ladder defines the fixed, ordered sequence of review steps a report
// passes through and the role that gates each one.
package ladder

// Step identifies one rung of the approval ladder.
type Step string

const (
	StepRiskAnalyst            Step = "RISK_ANALYST"
	StepDepartmentHeadBusiness Step = "DEPARTMENT_HEAD_BUSINESS"
	StepDepartmentHeadRisk     Step = "DEPARTMENT_HEAD_RISK"
)

// Role names used by the directory.
const (
	RoleRiskAnalyst            = "risk_analyst"
	RoleDepartmentHeadBusiness = "kadept_bisnis"
	RoleDepartmentHeadRisk     = "kadept_risk"
	RoleSuperAdmin             = "super_admin"
)

// rung is one row of the lookup table
type rung struct {
	step        Step
	role        string
	label       string
	canOverride bool
}

// rungs is ordered; index+1 is the step's position on the ladder.
var rungs = []rung{
	{step: StepRiskAnalyst, role: RoleRiskAnalyst, label: "Risk Analyst"},
	{step: StepDepartmentHeadBusiness, role: RoleDepartmentHeadBusiness, label: "Kepala Departemen Bisnis", canOverride: true},
	{step: StepDepartmentHeadRisk, role: RoleDepartmentHeadRisk, label: "Kepala Departemen Risk", canOverride: true},
}

func indexOf(s Step) int {
	for i, r := range rungs {
		if r.step == s {
			return i
		}
	}
	return -1
}

// Order returns the steps in ladder order. The returned slice is a copy.
func Order() []Step {
	steps := make([]Step, len(rungs))
	for i, r := range rungs {
		steps[i] = r.step
	}
	return steps
}

// First returns the entry rung.
func First() Step {
	return rungs[0].step
}

// Last returns the final rung.
func Last() Step {
	return rungs[len(rungs)-1].step
}

// IsLast reports whether s is the final rung.
func IsLast(s Step) bool {
	return s.IsValid() && s == Last()
}

// Role returns the role required to act on s, or "" for an unknown step.
func Role(s Step) string {
	if i := indexOf(s); i >= 0 {
		return rungs[i].role
	}
	return ""
}

// Label returns a human readable name for s.
func Label(s Step) string {
	if i := indexOf(s); i >= 0 {
		return rungs[i].label
	}
	return string(s)
}

// Position returns the 1-based position of s on the ladder, or 0 when unknown.
func Position(s Step) int {
	return indexOf(s) + 1
}

// Next returns the step after s. ok is false at the top of the ladder.
func Next(s Step) (next Step, ok bool) {
	i := indexOf(s)
	if i < 0 || i+1 >= len(rungs) {
		return "", false
	}
	return rungs[i+1].step, true
}

// Previous returns the step before s. ok is false at the bottom of the ladder.
func Previous(s Step) (prev Step, ok bool) {
	i := indexOf(s)
	if i <= 0 {
		return "", false
	}
	return rungs[i-1].step, true
}

// CanOverride reports whether the holder of s's role may short-circuit the ladder.
func CanOverride(s Step) bool {
	if i := indexOf(s); i >= 0 {
		return rungs[i].canOverride
	}
	return false
}

// StepForRole returns the rung gated by role.
func StepForRole(role string) (Step, bool) {
	for _, r := range rungs {
		if r.role == role {
			return r.step, true
		}
	}
	return "", false
}

// OverrideRoles returns the roles whose rung may override.
func OverrideRoles() []string {
	var roles []string
	for _, r := range rungs {
		if r.canOverride {
			roles = append(roles, r.role)
		}
	}
	return roles
}

// ApproverRoles returns every role that gates a rung.
func ApproverRoles() []string {
	roles := make([]string, len(rungs))
	for i, r := range rungs {
		roles[i] = r.role
	}
	return roles
}

// Compare orders two steps by ladder position.
func Compare(a, b Step) int {
	return Position(a) - Position(b)
}

// IsValid returns true if s is a rung of the ladder
func (s Step) IsValid() bool {
	return indexOf(s) >= 0
}

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}
