package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ExperimentSearchCriteria is a conjunction of optional search
// criteria. Any subset may be set; an empty criteria set matches all
// experiments.
type ExperimentSearchCriteria struct {
	Text             *string
	Tags             []string
	MatchAllTags     bool
	ExperimentTypeID *int64
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
}

func likePattern(text string) string {
	return "%" + strings.ToLower(text) + "%"
}

// SearchExperiments returns experiments matching all set criteria,
// newest first.
func (s *Store) SearchExperiments(ctx context.Context, criteria ExperimentSearchCriteria,
	skip, limit int) ([]Experiment, error) {
	query := sprintfSchema(experimentJoin, s.db.Schema)
	var (
		args    []interface{}
		clauses []string
	)
	if criteria.Text != nil && *criteria.Text != "" {
		args = append(args, likePattern(*criteria.Text))
		clauses = append(clauses, "lower(e.description) LIKE $"+strconv.Itoa(len(args)))
	}
	if criteria.ExperimentTypeID != nil {
		args = append(args, *criteria.ExperimentTypeID)
		clauses = append(clauses, "e.experiment_type_id = $"+strconv.Itoa(len(args)))
	}
	if len(criteria.Tags) > 0 {
		args = append(args, pq.Array(criteria.Tags))
		if criteria.MatchAllTags {
			clauses = append(clauses, "e.tags @> $"+strconv.Itoa(len(args)))
		} else {
			clauses = append(clauses, "e.tags && $"+strconv.Itoa(len(args)))
		}
	}
	if criteria.CreatedAfter != nil {
		args = append(args, *criteria.CreatedAfter)
		clauses = append(clauses, "e.created_at >= $"+strconv.Itoa(len(args)))
	}
	if criteria.CreatedBefore != nil {
		args = append(args, *criteria.CreatedBefore)
		clauses = append(clauses, "e.created_at <= $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit, skip)
	query += ` ORDER BY e.created_at DESC, e.uuid LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args)) + `;`

	return s.queryExperiments(ctx, query, args...)
}

// SearchExperimentTypes matches a case-insensitive substring against
// experiment type names and descriptions, newest first.
func (s *Store) SearchExperimentTypes(ctx context.Context, text string,
	createdAfter, createdBefore *time.Time, skip, limit int) ([]ExperimentType, error) {
	query := `SELECT ` + experimentTypeColumns + ` FROM ` + s.db.Schema + `.experiment_types `
	var (
		args    []interface{}
		clauses []string
	)
	if text != "" {
		args = append(args, likePattern(text))
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(lower(description) LIKE $"+n+" OR lower(name) LIKE $"+n+")")
	}
	if createdAfter != nil {
		args = append(args, *createdAfter)
		clauses = append(clauses, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if createdBefore != nil {
		args = append(args, *createdBefore)
		clauses = append(clauses, "created_at <= $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	args = append(args, limit, skip)
	query += `ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args)) + `;`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// SearchTags matches a case-insensitive substring against tag names and
// descriptions, newest first.
func (s *Store) SearchTags(ctx context.Context, text string,
	createdAfter, createdBefore *time.Time, skip, limit int) ([]Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM ` + s.db.Schema + `.tags `
	var (
		args    []interface{}
		clauses []string
	)
	if text != "" {
		args = append(args, likePattern(text))
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(lower(name) LIKE $"+n+" OR lower(description) LIKE $"+n+")")
	}
	if createdAfter != nil {
		args = append(args, *createdAfter)
		clauses = append(clauses, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if createdBefore != nil {
		args = append(args, *createdBefore)
		clauses = append(clauses, "created_at <= $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	args = append(args, limit, skip)
	query += `ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args)) + `;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	return tags, rows.Err()
}
