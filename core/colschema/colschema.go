/*Package colschema validates experiment type schema definitions.

A schema definition maps custom column names to either a bare abstract
type name or an object with "type" and optional "nullable". Validation
is pure: the structural shape is checked against an embedded JSON
schema, then column names are checked against the reserved set and
declared types against the column type catalog. The dynamic table
manager is only ever invoked with a schema that passed here.
*/
package colschema

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/wave-research/wave/core/coltype"
)

//go:embed definition.json
var schemaFS embed.FS

var structuralSchema *gojsonschema.Schema

func init() {
	data, err := schemaFS.ReadFile("definition.json")
	if err != nil {
		panic(err)
	}
	structuralSchema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Errorf("cannot compile schema definition schema: %w", err))
	}
}

// reserved column names, compared case-insensitively. These are the
// fixed columns every dynamic table carries.
var reservedColumnNames = []string{"id", "experiment_uuid", "participant_id", "created_at", "updated_at"}

// IsReserved returns true if name collides with a fixed dynamic table column.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	for _, reserved := range reservedColumnNames {
		if lower == reserved {
			return true
		}
	}
	return false
}

// Column is one validated custom column.
type Column struct {
	Name     string
	Type     coltype.Type
	Nullable bool
}

// Schema is a validated, normalized schema definition. Columns are
// sorted by name so that generated DDL is deterministic.
type Schema struct {
	Columns []Column
}

// ReservedColumnNameError indicates a custom column collides with a
// fixed dynamic table column.
type ReservedColumnNameError struct {
	Name string
}

func (e ReservedColumnNameError) Error() string {
	return fmt.Sprintf("column name '%s' is reserved", e.Name)
}

// UnsupportedColumnTypeError indicates a declared type is not in the
// column type catalog.
type UnsupportedColumnTypeError struct {
	Name string
	Type string
}

func (e UnsupportedColumnTypeError) Error() string {
	return fmt.Sprintf("column '%s' has unsupported type '%s'", e.Name, e.Type)
}

// MissingTypeFieldError indicates an object-form column definition
// omits its "type" key.
type MissingTypeFieldError struct {
	Name string
}

func (e MissingTypeFieldError) Error() string {
	return fmt.Sprintf("column '%s' definition is missing the 'type' field", e.Name)
}

// InvalidDefinitionError indicates the schema definition does not have
// the expected shape.
type InvalidDefinitionError struct {
	Reason string
}

func (e InvalidDefinitionError) Error() string {
	return "invalid schema definition: " + e.Reason
}

// Validate checks a decoded schema definition and returns its
// normalized form. It has no side effects.
func Validate(definition map[string]interface{}) (Schema, error) {
	if definition == nil {
		return Schema{}, nil
	}

	result, err := structuralSchema.Validate(gojsonschema.NewGoLoader(definition))
	if err != nil {
		return Schema{}, InvalidDefinitionError{Reason: err.Error()}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return Schema{}, InvalidDefinitionError{Reason: strings.Join(reasons, "; ")}
	}

	schema := Schema{Columns: make([]Column, 0, len(definition))}
	for name, value := range definition {
		if IsReserved(name) {
			return Schema{}, ReservedColumnNameError{Name: name}
		}
		column := Column{Name: name, Nullable: true}
		switch v := value.(type) {
		case string:
			column.Type = coltype.Normalize(v)
		case map[string]interface{}:
			typeName, ok := v["type"].(string)
			if !ok || typeName == "" {
				return Schema{}, MissingTypeFieldError{Name: name}
			}
			column.Type = coltype.Normalize(typeName)
			if nullable, ok := v["nullable"].(bool); ok {
				column.Nullable = nullable
			}
		default:
			// the structural check does not get here
			return Schema{}, InvalidDefinitionError{Reason: fmt.Sprintf("column '%s' must be a type name or an object", name)}
		}
		if _, ok := coltype.Lookup(string(column.Type)); !ok {
			return Schema{}, UnsupportedColumnTypeError{Name: name, Type: string(column.Type)}
		}
		schema.Columns = append(schema.Columns, column)
	}

	sort.Slice(schema.Columns, func(i, j int) bool {
		return schema.Columns[i].Name < schema.Columns[j].Name
	})
	return schema, nil
}
