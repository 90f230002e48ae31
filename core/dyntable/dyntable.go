/*Package dyntable creates and operates the physical data tables backing
experiment types.

Each experiment type owns one table whose custom column set comes from
its schema definition. Many experiments share that one table; isolation
between them relies entirely on the experiment_uuid scoping column every
row carries. All operations reflect the table's live column set per call
instead of caching a schema, so concurrent schema changes are visible to
the next call.

Storage failures are converted to sentinel returns (false, nil, 0, empty
slice) with the cause logged; the one deliberate exception is the
unknown-column case on insert, which is escalated so that schema drift
is caught at write time instead of silently corrupting data.
*/
package dyntable

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wave-research/wave/core/colschema"
	"github.com/wave-research/wave/core/coltype"
	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/logger"
)

// Manager performs typed CRUD against dynamic experiment data tables.
type Manager struct {
	db *csql.DB
}

// New creates a manager on the passed database.
func New(db *csql.DB) *Manager {
	return &Manager{db: db}
}

// UnknownColumnsError is returned by InsertRow when the data map
// contains keys that are not columns of the reflected table.
type UnknownColumnsError struct {
	Columns []string
}

func (e UnknownColumnsError) Error() string {
	return fmt.Sprintf("unknown columns: %s. Update the experiment type schema to include these columns",
		strings.Join(e.Columns, ", "))
}

func (m *Manager) qualified(tableName string) string {
	return m.db.Schema + "." + pq.QuoteIdentifier(tableName)
}

// CreateTable creates the physical table for an experiment type. The
// table always carries the fixed columns id, experiment_uuid,
// participant_id, created_at and updated_at; custom columns come from
// the validated schema. Entries colliding with a fixed column are
// skipped even though the schema validator already rejects them.
//
// It returns false on any storage failure and logs the cause; callers
// must check the result and roll back the owning experiment type row.
func (m *Manager) CreateTable(ctx context.Context, tableName string, schema colschema.Schema) bool {
	rlog := logger.FromContext(ctx)

	createColumns := []string{
		"id serial PRIMARY KEY",
		"experiment_uuid uuid NOT NULL",
		"participant_id varchar(100) NOT NULL",
		"created_at timestamp NOT NULL DEFAULT now()",
		"updated_at timestamp NOT NULL DEFAULT now()",
	}
	for _, column := range schema.Columns {
		if colschema.IsReserved(column.Name) {
			continue
		}
		createColumn := pq.QuoteIdentifier(column.Name) + " " + coltype.PostgresType(string(column.Type))
		if !column.Nullable {
			createColumn += " NOT NULL"
		}
		createColumns = append(createColumns, createColumn)
	}

	createQuery := fmt.Sprintf("CREATE TABLE %s (%s);", m.qualified(tableName), strings.Join(createColumns, ", "))
	for _, indexColumn := range []string{"experiment_uuid", "participant_id"} {
		createQuery += fmt.Sprintf("CREATE INDEX %s ON %s(%s);",
			pq.QuoteIdentifier(tableName+"_"+indexColumn+"_idx"),
			m.qualified(tableName), indexColumn)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("error creating table %s", tableName)
		return false
	}
	if _, err = tx.Exec(createQuery); err != nil {
		tx.Rollback()
		rlog.WithError(err).Errorf("error creating table %s", tableName)
		return false
	}
	if err = tx.Commit(); err != nil {
		rlog.WithError(err).Errorf("error creating table %s", tableName)
		return false
	}
	return true
}

// DropTable drops the physical table. Dropping a table that does not
// exist is success, not an error.
func (m *Manager) DropTable(ctx context.Context, tableName string) bool {
	rlog := logger.FromContext(ctx)
	_, err := m.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+m.qualified(tableName)+";")
	if err != nil {
		rlog.WithError(err).Errorf("error dropping table %s", tableName)
		return false
	}
	return true
}

// Filter is the composable row filter for GetRows and CountRows. Custom
// holds exact-match filters on custom columns; keys that are not columns
// of the table are silently ignored.
type Filter struct {
	ExperimentUUID *uuid.UUID
	ParticipantID  *string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	Custom         map[string]interface{}
}

// where renders the filter as SQL predicates with $n placeholders
// continuing after the passed arguments.
func (f Filter) where(table *Table, args []interface{}) (string, []interface{}) {
	var clauses []string
	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, clause+"$"+strconv.Itoa(len(args)))
	}

	if f.ExperimentUUID != nil {
		add("experiment_uuid = ", f.ExperimentUUID.String())
	}
	if f.ParticipantID != nil {
		add("participant_id = ", *f.ParticipantID)
	}
	if f.CreatedAfter != nil {
		add("created_at >= ", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at <= ", *f.CreatedBefore)
	}

	customKeys := make([]string, 0, len(f.Custom))
	for key := range f.Custom {
		if table.HasColumn(key) {
			customKeys = append(customKeys, key)
		}
	}
	sort.Strings(customKeys)
	for _, key := range customKeys {
		value, err := encodeValue(f.Custom[key])
		if err != nil {
			continue
		}
		add(pq.QuoteIdentifier(key)+" = ", value)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func columnList(table *Table) string {
	names := make([]string, len(table.Columns))
	for i, column := range table.Columns {
		names[i] = pq.QuoteIdentifier(column.Name)
	}
	return strings.Join(names, ", ")
}

// InsertRow inserts one data row. The experiment uuid and participant id
// always come from the arguments; matching keys in the data map are
// overridden. Keys that are not columns of the
// reflected table fail the insert with UnknownColumnsError; this is a
// deliberate strictness choice so that a mismatched experiment type
// schema is caught at write time. On success the generated row id is
// returned.
func (m *Manager) InsertRow(ctx context.Context, tableName string, experimentUUID uuid.UUID,
	participantID string, data map[string]interface{}) (int64, error) {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return 0, fmt.Errorf("table %s does not exist", tableName)
	}

	valid := map[string]interface{}{}
	var unknown []string
	for key, value := range data {
		if table.HasColumn(key) {
			valid[key] = value
		} else {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		err := UnknownColumnsError{Columns: unknown}
		rlog.WithError(err).Errorf("error inserting data into %s", tableName)
		return 0, err
	}

	// the scoping values are assigned last so that data keys can never
	// move a row into another experiment
	valid["experiment_uuid"] = experimentUUID.String()
	valid["participant_id"] = participantID

	keys := make([]string, 0, len(valid))
	for key := range valid {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	columns := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		value, err := encodeValue(valid[key])
		if err != nil {
			rlog.WithError(err).Errorf("error inserting data into %s", tableName)
			return 0, err
		}
		columns[i] = pq.QuoteIdentifier(key)
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = value
	}

	insertQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s) RETURNING id;",
		m.qualified(tableName), strings.Join(columns, ", "), strings.Join(placeholders, ","))

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("error inserting data into %s", tableName)
		return 0, err
	}
	var rowID int64
	if err = tx.QueryRow(insertQuery, args...).Scan(&rowID); err != nil {
		tx.Rollback()
		rlog.WithError(err).Errorf("error inserting data into %s", tableName)
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		rlog.WithError(err).Errorf("error inserting data into %s", tableName)
		return 0, err
	}
	return rowID, nil
}

// GetRows returns data rows ordered by creation time descending, newest
// first, with row id breaking ties. A missing table or an empty result
// both return an empty list.
func (m *Manager) GetRows(ctx context.Context, tableName string, filter Filter, limit, offset int) []Row {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return []Row{}
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := filter.where(table, nil)
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d;",
		columnList(table), m.qualified(tableName), where, len(args)-1, len(args))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		rlog.WithError(err).Errorf("error querying data from %s", tableName)
		return []Row{}
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		values, row := scanValues(table)
		if err = rows.Scan(values...); err != nil {
			rlog.WithError(err).Errorf("error querying data from %s", tableName)
			return []Row{}
		}
		decodeRow(table, values, row)
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		rlog.WithError(err).Errorf("error querying data from %s", tableName)
		return []Row{}
	}
	return result
}

// GetRowByID returns a single row by id, or nil if there is none. When
// an experiment uuid is passed it becomes an additional equality filter;
// callers use this to prevent cross-experiment row disclosure.
func (m *Manager) GetRowByID(ctx context.Context, tableName string, rowID int64, experimentUUID *uuid.UUID) Row {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columnList(table), m.qualified(tableName))
	args := []interface{}{rowID}
	if experimentUUID != nil {
		args = append(args, experimentUUID.String())
		query += " AND experiment_uuid = $2"
	}
	query += ";"

	values, row := scanValues(table)
	err := m.db.QueryRowContext(ctx, query, args...).Scan(values...)
	if err == csql.ErrNoRows {
		return nil
	}
	if err != nil {
		rlog.WithError(err).Errorf("error getting data row from %s", tableName)
		return nil
	}
	decodeRow(table, values, row)
	return row
}

// forbidden update keys; updated_at is always set server-side instead
var forbiddenUpdateColumns = []string{"id", "experiment_uuid", "created_at", "updated_at"}

// UpdateRow applies a partial update to one row. Forbidden keys and keys
// that are not columns of the table are stripped; if nothing remains the
// update fails rather than issuing a no-op write. updated_at is always
// refreshed. Returns whether a row was affected.
func (m *Manager) UpdateRow(ctx context.Context, tableName string, rowID int64,
	data map[string]interface{}, experimentUUID *uuid.UUID) bool {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return false
	}

	valid := map[string]interface{}{}
nextKey:
	for key, value := range data {
		for _, forbidden := range forbiddenUpdateColumns {
			if key == forbidden {
				continue nextKey
			}
		}
		if table.HasColumn(key) {
			valid[key] = value
		}
	}
	if len(valid) == 0 {
		return false
	}

	keys := make([]string, 0, len(valid))
	for key := range valid {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		sets []string
		args []interface{}
	)
	for _, key := range keys {
		value, err := encodeValue(valid[key])
		if err != nil {
			rlog.WithError(err).Errorf("error updating data in %s", tableName)
			return false
		}
		args = append(args, value)
		sets = append(sets, pq.QuoteIdentifier(key)+" = $"+strconv.Itoa(len(args)))
	}

	args = append(args, rowID)
	query := fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d",
		m.qualified(tableName), strings.Join(sets, ", "), len(args))
	if experimentUUID != nil {
		args = append(args, experimentUUID.String())
		query += fmt.Sprintf(" AND experiment_uuid = $%d", len(args))
	}
	query += ";"

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("error updating data in %s", tableName)
		return false
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		rlog.WithError(err).Errorf("error updating data in %s", tableName)
		return false
	}
	count, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		rlog.WithError(err).Errorf("error updating data in %s", tableName)
		return false
	}
	if err = tx.Commit(); err != nil {
		rlog.WithError(err).Errorf("error updating data in %s", tableName)
		return false
	}
	return count > 0
}

// DeleteRow deletes one row with the same scoping discipline as
// UpdateRow. Returns whether a row was affected.
func (m *Manager) DeleteRow(ctx context.Context, tableName string, rowID int64, experimentUUID *uuid.UUID) bool {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return false
	}

	query := "DELETE FROM " + m.qualified(tableName) + " WHERE id = $1"
	args := []interface{}{rowID}
	if experimentUUID != nil {
		args = append(args, experimentUUID.String())
		query += " AND experiment_uuid = $2"
	}
	query += ";"

	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		rlog.WithError(err).Errorf("error deleting data from %s", tableName)
		return false
	}
	count, err := result.RowsAffected()
	if err != nil {
		rlog.WithError(err).Errorf("error deleting data from %s", tableName)
		return false
	}
	return count > 0
}

// CountRows counts data rows with the same filter semantics as GetRows,
// minus pagination and ordering.
func (m *Manager) CountRows(ctx context.Context, tableName string, filter Filter) int {
	rlog := logger.FromContext(ctx)

	table := m.Reflect(ctx, tableName)
	if table == nil {
		return 0
	}

	where, args := filter.where(table, nil)
	query := "SELECT count(id) FROM " + m.qualified(tableName) + where + ";"

	var count int
	err := m.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		rlog.WithError(err).Errorf("error counting data rows in %s", tableName)
		return 0
	}
	return count
}

// Columns returns the column metadata of the reflected table in
// table-native order, or an empty list if the table does not exist.
func (m *Manager) Columns(ctx context.Context, tableName string) []Column {
	table := m.Reflect(ctx, tableName)
	if table == nil {
		return []Column{}
	}
	return table.Columns
}
