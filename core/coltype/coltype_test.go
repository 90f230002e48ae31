package coltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	pg, ok := Lookup("INTEGER")
	assert.True(t, ok)
	assert.Equal(t, "integer", pg)

	pg, ok = Lookup("float")
	assert.True(t, ok)
	assert.Equal(t, "double precision", pg)

	pg, ok = Lookup("DateTime")
	assert.True(t, ok)
	assert.Equal(t, "timestamp", pg)

	_, ok = Lookup("DECIMAL")
	assert.False(t, ok)
}

func TestAllTypesHaveAMapping(t *testing.T) {
	types := All()
	assert.Len(t, types, 7)
	for _, abstract := range types {
		pg, ok := Lookup(string(abstract))
		assert.True(t, ok, "type %s has no mapping", abstract)
		assert.NotEmpty(t, pg)
	}
}

func TestPostgresTypeFallback(t *testing.T) {
	// unknown types degrade to the bounded string type
	assert.Equal(t, "varchar(255)", PostgresType("DECIMAL"))
	assert.Equal(t, "varchar(255)", PostgresType(""))

	// known types are unaffected
	assert.Equal(t, "jsonb", PostgresType("json"))
	assert.Equal(t, "boolean", PostgresType("BOOLEAN"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Integer, Normalize("integer"))
	assert.Equal(t, Text, Normalize("Text"))
}
