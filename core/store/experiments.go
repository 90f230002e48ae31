package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wave-research/wave/core/csql"
)

// Experiment is one run description under an experiment type. All
// experiments of one type share that type's dynamic data table; data
// rows are scoped to their experiment through the experiment's uuid.
type Experiment struct {
	UUID             uuid.UUID              `json:"uuid"`
	ExperimentTypeID int64                  `json:"experiment_type_id"`
	ParticipantID    string                 `json:"participant_id"`
	Description      string                 `json:"description"`
	Tags             []string               `json:"tags"`
	AdditionalData   map[string]interface{} `json:"additional_data"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`

	// ExperimentType is always eagerly attached; nearly every consumer
	// needs it to resolve the data table name.
	ExperimentType *ExperimentType `json:"experiment_type,omitempty"`
}

// ExperimentUpdate is a partial update; nil fields are left unchanged.
type ExperimentUpdate struct {
	ParticipantID  *string                `json:"participant_id"`
	Description    *string                `json:"description"`
	Tags           []string               `json:"tags"`
	AdditionalData map[string]interface{} `json:"additional_data"`
}

// ExperimentFilter narrows GetExperiments. Tags means: contains all of
// the passed tag names.
type ExperimentFilter struct {
	ExperimentTypeID *int64
	ParticipantID    *string
	Tags             []string
}

const experimentJoin = `SELECT e.uuid, e.experiment_type_id, e.participant_id, e.description, e.tags,
e.additional_data, e.created_at, e.updated_at,
t.id, t.name, t.description, t.table_name, t.schema_definition, t.created_at, t.updated_at
FROM %[1]s.experiments e JOIN %[1]s.experiment_types t ON e.experiment_type_id = t.id `

func sprintfSchema(format, schema string) string {
	return fmt.Sprintf(format, schema)
}

func scanExperiment(row interface{ Scan(...interface{}) error }) (*Experiment, error) {
	var (
		e             Experiment
		et            ExperimentType
		rawAdditional json.RawMessage
		rawDefinition json.RawMessage
	)
	err := row.Scan(&e.UUID, &e.ExperimentTypeID, &e.ParticipantID, &e.Description,
		pq.Array(&e.Tags), &rawAdditional, &e.CreatedAt, &e.UpdatedAt,
		&et.ID, &et.Name, &et.Description, &et.TableName, &rawDefinition,
		&et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(rawAdditional, &e.AdditionalData); err != nil {
		return nil, err
	}
	if err = json.Unmarshal(rawDefinition, &et.SchemaDefinition); err != nil {
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	e.ExperimentType = &et
	return &e, nil
}

// CreateExperiment creates a new experiment under an existing type.
// Every tag name must exist as a tag row, otherwise TagNotFoundError is
// returned before any write.
func (s *Store) CreateExperiment(ctx context.Context, experimentTypeID int64, participantID,
	description string, tags []string, additionalData map[string]interface{}) (*Experiment, error) {
	if err := s.validateTags(tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	if additionalData == nil {
		additionalData = map[string]interface{}{}
	}
	rawAdditional, err := json.Marshal(additionalData)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.experiments (uuid, experiment_type_id, participant_id, description, tags, additional_data)
VALUES($1, $2, $3, $4, $5, $6);`,
		id, experimentTypeID, participantID, description, pq.Array(tags), rawAdditional)
	if err != nil {
		return nil, err
	}
	return s.GetExperiment(ctx, id)
}

// GetExperiment returns an experiment by uuid with its type attached,
// or nil if there is none.
func (s *Store) GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	query := sprintfSchema(experimentJoin, s.db.Schema) + `WHERE e.uuid = $1;`
	e, err := scanExperiment(s.db.QueryRowContext(ctx, query, id))
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetExperiments returns experiments with optional filtering and
// pagination, newest first.
func (s *Store) GetExperiments(ctx context.Context, filter ExperimentFilter, skip, limit int) ([]Experiment, error) {
	query := sprintfSchema(experimentJoin, s.db.Schema)
	var (
		args    []interface{}
		clauses []string
	)
	if filter.ExperimentTypeID != nil {
		args = append(args, *filter.ExperimentTypeID)
		clauses = append(clauses, "e.experiment_type_id = $"+strconv.Itoa(len(args)))
	}
	if filter.ParticipantID != nil {
		args = append(args, *filter.ParticipantID)
		clauses = append(clauses, "e.participant_id = $"+strconv.Itoa(len(args)))
	}
	if len(filter.Tags) > 0 {
		args = append(args, pq.Array(filter.Tags))
		clauses = append(clauses, "e.tags @> $"+strconv.Itoa(len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += "WHERE "
		} else {
			query += " AND "
		}
		query += clause
	}
	args = append(args, limit, skip)
	query += ` ORDER BY e.created_at DESC, e.uuid LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args)) + `;`

	return s.queryExperiments(ctx, query, args...)
}

func (s *Store) queryExperiments(ctx context.Context, query string, args ...interface{}) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	experiments := []Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, *e)
	}
	return experiments, rows.Err()
}

// UpdateExperiment applies a partial update and returns the updated
// experiment, or nil if it does not exist. A new tag list is validated
// the same way as on create.
func (s *Store) UpdateExperiment(ctx context.Context, id uuid.UUID, update ExperimentUpdate) (*Experiment, error) {
	var (
		sets []string
		args []interface{}
	)
	if update.ParticipantID != nil {
		args = append(args, *update.ParticipantID)
		sets = append(sets, "participant_id = $"+strconv.Itoa(len(args)))
	}
	if update.Description != nil {
		args = append(args, *update.Description)
		sets = append(sets, "description = $"+strconv.Itoa(len(args)))
	}
	if update.Tags != nil {
		if err := s.validateTags(update.Tags); err != nil {
			return nil, err
		}
		args = append(args, pq.Array(update.Tags))
		sets = append(sets, "tags = $"+strconv.Itoa(len(args)))
	}
	if update.AdditionalData != nil {
		rawAdditional, err := json.Marshal(update.AdditionalData)
		if err != nil {
			return nil, err
		}
		args = append(args, rawAdditional)
		sets = append(sets, "additional_data = $"+strconv.Itoa(len(args)))
	}
	if len(sets) == 0 {
		return s.GetExperiment(ctx, id)
	}

	query := `UPDATE ` + s.db.Schema + `.experiments SET `
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	args = append(args, id)
	query += `, updated_at = now() WHERE uuid = $` + strconv.Itoa(len(args)) + ` RETURNING uuid;`

	var updated uuid.UUID
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&updated)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetExperiment(ctx, id)
}

// DeleteExperiment removes the metadata row only. Data rows in the
// shared dynamic table keep the experiment's uuid and become
// unreachable through the API.
func (s *Store) DeleteExperiment(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`.experiments WHERE uuid = $1;`, id)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	return count > 0, err
}
