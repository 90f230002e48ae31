package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)

	v, err = Parse("v2.0.1")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 2, Minor: 0, Patch: 1}, v)

	v, err = Parse("1.0.0-beta.1+build.5")
	require.NoError(t, err)
	assert.Equal(t, "beta.1", v.PreRelease)
	assert.Equal(t, "build.5", v.Build)
	assert.Equal(t, "1.0.0-beta.1+build.5", v.String())

	v, err = Parse("1")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1}, v)

	v, err = Parse("1.4")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 4}, v)
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{"", "  ", "a.b.c", "1.2.3.4", "1.-2.0", "one"} {
		_, err := Parse(s)
		assert.Error(t, err, "version %q must not parse", s)
	}
}

func TestCompatible(t *testing.T) {
	api, _ := Parse("1.3.0")

	client, _ := Parse("1.0.0")
	assert.True(t, Compatible(client, api))
	assert.Empty(t, CompatibilityWarning(client, api))

	client, _ = Parse("1.9.7")
	assert.True(t, Compatible(client, api))

	client, _ = Parse("2.0.0")
	assert.False(t, Compatible(client, api))
	assert.NotEmpty(t, CompatibilityWarning(client, api))

	client, _ = Parse("0.9.0")
	assert.False(t, Compatible(client, api))
}

func TestAPIVersionParses(t *testing.T) {
	_, err := Parse(APIVersion)
	assert.NoError(t, err)
}
