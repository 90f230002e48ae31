package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("researcher")
	require.NoError(t, err)
	assert.Equal(t, RoleResearcher, role)

	role, err = ParseRole(" ADMIN ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("superuser")
	assert.Error(t, err)

	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleExperimentee.CanAccess(RoleExperimentee))
	assert.False(t, RoleExperimentee.CanAccess(RoleResearcher))

	assert.True(t, RoleResearcher.CanAccess(RoleExperimentee))
	assert.False(t, RoleResearcher.CanAccess(RoleAdmin))

	assert.True(t, RoleAdmin.CanAccess(RoleResearcher))
	assert.False(t, RoleAdmin.CanAccess(RoleTest))

	assert.True(t, RoleTest.CanAccess(RoleAdmin))
	assert.True(t, RoleTest.CanAccess(RoleExperimentee))

	// unknown roles can access nothing
	assert.False(t, Role("superuser").CanAccess(RoleExperimentee))
	assert.False(t, RoleAdmin.CanAccess(Role("superuser")))
}

func TestAuthorizationHasRole(t *testing.T) {
	var auth *Authorization
	assert.False(t, auth.HasRole(RoleExperimentee), "nil authorization satisfies nothing")

	auth = &Authorization{Role: RoleResearcher}
	assert.True(t, auth.HasRole(RoleExperimentee))
	assert.True(t, auth.HasRole(RoleResearcher))
	assert.False(t, auth.HasRole(RoleAdmin))
}
