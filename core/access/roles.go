/*Package access provides role based access control for the HTTP API.

Every request carries an API key as bearer token. Keys are verified
against an external key service and resolve to a role; roles form a
strict hierarchy, a higher role can do everything a lower role can.
*/
package access

import (
	"fmt"
	"strings"
)

// Role is one level in the role hierarchy.
type Role string

const (
	// RoleExperimentee can read and submit data for its own experiments.
	RoleExperimentee Role = "experimentee"
	// RoleResearcher can manage experiments, types and tags.
	RoleResearcher Role = "researcher"
	// RoleAdmin can additionally delete experiments and types.
	RoleAdmin Role = "admin"
	// RoleTest is the highest role, reserved for test setups.
	RoleTest Role = "test"
)

var roleRanks = map[Role]int{
	RoleExperimentee: 1,
	RoleResearcher:   2,
	RoleAdmin:        3,
	RoleTest:         4,
}

// ParseRole reads a role name case-insensitively.
func ParseRole(name string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("unknown role %q", name)
	}
	return role, nil
}

// CanAccess returns true if this role is at least as high in the
// hierarchy as the required role.
func (r Role) CanAccess(required Role) bool {
	rank, ok := roleRanks[r]
	requiredRank, requiredOK := roleRanks[required]
	return ok && requiredOK && rank >= requiredRank
}
