package entity

// User is a directory entry
type User struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Email      string   `json:"email,omitempty" yaml:"email"`
	LarkOpenID string   `json:"lark_open_id,omitempty" yaml:"lark_open_id"`
	Roles      []string `json:"roles,omitempty" yaml:"roles"`
}

// Actor is the authenticated caller of a workflow operation
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the actor holds role
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the actor holds at least one of roles
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}
