/*Package coltype is the catalog of abstract column types an experiment
type schema may declare, and their translation to postgres column types.

The set is closed. Type names are case-insensitive and normalized to
upper case on entry.
*/
package coltype

import "strings"

// Type is one of the supported abstract column types.
type Type string

// all supported abstract column types
const (
	Integer  Type = "INTEGER"
	Float    Type = "FLOAT"
	String   Type = "STRING"
	Text     Type = "TEXT"
	Boolean  Type = "BOOLEAN"
	DateTime Type = "DATETIME"
	JSON     Type = "JSON"
)

// postgres column types for each abstract type
var typeMapping = map[Type]string{
	Integer:  "integer",
	Float:    "double precision",
	String:   "varchar(255)",
	Text:     "text",
	Boolean:  "boolean",
	DateTime: "timestamp",
	JSON:     "jsonb",
}

// All returns the supported abstract type names in no particular order.
func All() []Type {
	types := make([]Type, 0, len(typeMapping))
	for t := range typeMapping {
		types = append(types, t)
	}
	return types
}

// Normalize upper-cases a declared type name.
func Normalize(name string) Type {
	return Type(strings.ToUpper(name))
}

// Lookup translates an abstract type name to its postgres column type.
// It returns false if the name is not in the catalog.
func Lookup(name string) (string, bool) {
	pg, ok := typeMapping[Normalize(name)]
	return pg, ok
}

// PostgresType translates an abstract type name to its postgres column
// type. Unknown names fall back to the bounded string type; the schema
// validator rejects such names upfront, this lenient path only exists so
// that table creation stays robust against unvalidated input.
func PostgresType(name string) string {
	if pg, ok := Lookup(name); ok {
		return pg
	}
	return typeMapping[String]
}
