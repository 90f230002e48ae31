package dyntable

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/wave-research/wave/core/logger"
)

// Column describes one column of a reflected table in engine-native terms.
type Column struct {
	Name       string  `json:"column_name"`
	NativeType string  `json:"column_type"`
	Nullable   bool    `json:"is_nullable"`
	Default    *string `json:"default_value"`
}

// Table is the live column set of a dynamic table, discovered at call
// time. The shape of a dynamic table is not known at compile time, hence
// every read/write operation starts from a reflected table.
type Table struct {
	Name    string
	Columns []Column

	names map[string]bool
}

// HasColumn returns true if the reflected table has a column with this name.
func (t *Table) HasColumn(name string) bool {
	return t.names[name]
}

const reflectQuery = `SELECT column_name, data_type, character_maximum_length, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position;`

// Reflect discovers the live column set of a table by name. It returns
// nil if the table does not exist or introspection fails; callers treat
// nil as not-found.
func (m *Manager) Reflect(ctx context.Context, tableName string) *Table {
	rlog := logger.FromContext(ctx)

	rows, err := m.db.QueryContext(ctx, reflectQuery, m.db.Schema, tableName)
	if err != nil {
		rlog.WithError(err).Errorf("error reflecting table %s", tableName)
		return nil
	}
	defer rows.Close()

	table := &Table{Name: tableName, names: map[string]bool{}}
	for rows.Next() {
		var (
			column     Column
			maxLength  *int64
			isNullable string
		)
		err = rows.Scan(&column.Name, &column.NativeType, &maxLength, &isNullable, &column.Default)
		if err != nil {
			rlog.WithError(err).Errorf("error reflecting table %s", tableName)
			return nil
		}
		if maxLength != nil {
			column.NativeType += "(" + strconv.FormatInt(*maxLength, 10) + ")"
		}
		column.Nullable = isNullable == "YES"
		table.Columns = append(table.Columns, column)
		table.names[column.Name] = true
	}
	if err = rows.Err(); err != nil {
		rlog.WithError(err).Errorf("error reflecting table %s", tableName)
		return nil
	}
	if len(table.Columns) == 0 {
		return nil
	}
	return table
}

// Row is one dynamic table row. The column set is only known at
// runtime, so rows are generic maps rather than static structs.
type Row map[string]interface{}

// scanValues returns one scan destination per column plus the row object
// the destinations point into.
func scanValues(table *Table) ([]interface{}, Row) {
	values := make([]interface{}, len(table.Columns))
	row := Row{}
	for i := range table.Columns {
		values[i] = new(interface{})
	}
	return values, row
}

// decodeRow converts scanned driver values into JSON-friendly Go values.
func decodeRow(table *Table, values []interface{}, row Row) {
	for i, column := range table.Columns {
		row[column.Name] = decodeValue(*(values[i].(*interface{})))
	}
}

func decodeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		// uuid, varchar and jsonb all arrive as bytes; jsonb payloads
		// are decoded back into structured values
		if len(v) > 0 && (v[0] == '{' || v[0] == '[') {
			var decoded interface{}
			if err := json.Unmarshal(v, &decoded); err == nil {
				return decoded
			}
		}
		return string(v)
	case time.Time:
		return v
	default:
		return v
	}
}

// encodeValue prepares a caller-supplied value for the driver. Structured
// values are stored as JSON.
func encodeValue(value interface{}) (interface{}, error) {
	switch value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, time.Time:
		return value, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cannot encode value: %w", err)
		}
		return data, nil
	}
}
