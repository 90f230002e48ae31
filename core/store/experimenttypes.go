package store

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/wave-research/wave/core/colschema"
	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/logger"
)

// ExperimentType is a named, reusable schema describing one kind of
// experiment and the physical table backing its per-participant data.
type ExperimentType struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	Description      *string                `json:"description"`
	TableName        string                 `json:"table_name"`
	SchemaDefinition map[string]interface{} `json:"schema_definition"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ExperimentTypeUpdate is a partial update; nil fields are left
// unchanged. The table name of an experiment type cannot change.
type ExperimentTypeUpdate struct {
	Name             *string                `json:"name"`
	Description      *string                `json:"description"`
	SchemaDefinition map[string]interface{} `json:"schema_definition"`
}

const experimentTypeColumns = "id, name, description, table_name, schema_definition, created_at, updated_at"

func scanExperimentType(row interface{ Scan(...interface{}) error }) (*ExperimentType, error) {
	var (
		et            ExperimentType
		rawDefinition json.RawMessage
	)
	err := row.Scan(&et.ID, &et.Name, &et.Description, &et.TableName, &rawDefinition,
		&et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(rawDefinition, &et.SchemaDefinition); err != nil {
		return nil, err
	}
	return &et, nil
}

// CreateExperimentType validates the schema definition, inserts the
// metadata row and then provisions the physical data table.
//
// The two steps are separate commits, not one transaction: the metadata
// commit happens first so that a provisioning failure can be compensated
// with a clean delete. If table creation fails the row is removed and
// TableProvisioningError is returned.
func (s *Store) CreateExperimentType(ctx context.Context, name string, description *string,
	tableName string, definition map[string]interface{}) (*ExperimentType, error) {
	rlog := logger.FromContext(ctx)

	schema, err := colschema.Validate(definition)
	if err != nil {
		return nil, err
	}
	if definition == nil {
		definition = map[string]interface{}{}
	}
	rawDefinition, err := json.Marshal(definition)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.experiment_types (name, description, table_name, schema_definition)
VALUES($1, $2, $3, $4) RETURNING `+experimentTypeColumns+`;`,
		name, description, tableName, rawDefinition)
	et, err := scanExperimentType(row)
	if err != nil {
		return nil, err
	}

	if !s.tables.CreateTable(ctx, tableName, schema) {
		// compensating action: the metadata row must not outlive a
		// failed provisioning
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM `+s.db.Schema+`.experiment_types WHERE id = $1;`, et.ID)
		if err != nil {
			rlog.WithError(err).Errorf("cannot roll back experiment type %s after provisioning failure", name)
		}
		return nil, TableProvisioningError{TableName: tableName}
	}
	return et, nil
}

// GetExperimentType returns an experiment type by id, or nil.
func (s *Store) GetExperimentType(ctx context.Context, id int64) (*ExperimentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentTypeColumns+` FROM `+s.db.Schema+`.experiment_types WHERE id = $1;`, id)
	et, err := scanExperimentType(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return et, err
}

// GetExperimentTypeByName returns an experiment type by name, or nil.
func (s *Store) GetExperimentTypeByName(ctx context.Context, name string) (*ExperimentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentTypeColumns+` FROM `+s.db.Schema+`.experiment_types WHERE name = $1;`, name)
	et, err := scanExperimentType(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return et, err
}

// GetExperimentTypes returns experiment types with pagination.
func (s *Store) GetExperimentTypes(ctx context.Context, skip, limit int) ([]ExperimentType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentTypeColumns+` FROM `+s.db.Schema+`.experiment_types ORDER BY id LIMIT $1 OFFSET $2;`,
		limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []ExperimentType{}
	for rows.Next() {
		et, err := scanExperimentType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *et)
	}
	return types, rows.Err()
}

// UpdateExperimentType applies a partial update and returns the updated
// type, or nil if it does not exist. A new schema definition is
// validated but the live table is not altered; new columns only apply
// to tables provisioned after the update.
func (s *Store) UpdateExperimentType(ctx context.Context, id int64, update ExperimentTypeUpdate) (*ExperimentType, error) {
	var (
		sets []string
		args []interface{}
	)
	if update.Name != nil {
		args = append(args, *update.Name)
		sets = append(sets, "name = $"+strconv.Itoa(len(args)))
	}
	if update.Description != nil {
		args = append(args, *update.Description)
		sets = append(sets, "description = $"+strconv.Itoa(len(args)))
	}
	if update.SchemaDefinition != nil {
		if _, err := colschema.Validate(update.SchemaDefinition); err != nil {
			return nil, err
		}
		rawDefinition, err := json.Marshal(update.SchemaDefinition)
		if err != nil {
			return nil, err
		}
		args = append(args, rawDefinition)
		sets = append(sets, "schema_definition = $"+strconv.Itoa(len(args)))
	}
	if len(sets) == 0 {
		return s.GetExperimentType(ctx, id)
	}

	query := `UPDATE ` + s.db.Schema + `.experiment_types SET `
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	args = append(args, id)
	query += `, updated_at = now() WHERE id = $` + strconv.Itoa(len(args)) +
		` RETURNING ` + experimentTypeColumns + `;`

	et, err := scanExperimentType(s.db.QueryRowContext(ctx, query, args...))
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return et, err
}

// DeleteExperimentType drops the backing dynamic table first, then
// deletes the metadata row. A table that is already gone does not block
// the deletion; DropTable is idempotent.
func (s *Store) DeleteExperimentType(ctx context.Context, id int64) (bool, error) {
	et, err := s.GetExperimentType(ctx, id)
	if err != nil {
		return false, err
	}
	if et == nil {
		return false, nil
	}

	s.tables.DropTable(ctx, et.TableName)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`.experiment_types WHERE id = $1;`, id)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	return count > 0, err
}
