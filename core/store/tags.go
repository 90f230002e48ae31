package store

import (
	"context"
	"strconv"
	"time"

	"github.com/wave-research/wave/core/csql"
)

// Tag categorizes experiments. Names are globally unique and
// case-sensitive; experiments reference them by value.
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TagUpdate is a partial tag update; nil fields are left unchanged.
type TagUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

const tagColumns = "id, name, description, created_at, updated_at"

func scanTag(row interface{ Scan(...interface{}) error }) (*Tag, error) {
	var tag Tag
	err := row.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// CreateTag creates a new tag. The name must be unused.
func (s *Store) CreateTag(ctx context.Context, name string, description *string) (*Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO `+s.db.Schema+`.tags (name, description) VALUES($1, $2) RETURNING `+tagColumns+`;`,
		name, description)
	return scanTag(row)
}

// GetTag returns a tag by id, or nil if there is none.
func (s *Store) GetTag(ctx context.Context, id int64) (*Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM `+s.db.Schema+`.tags WHERE id = $1;`, id)
	tag, err := scanTag(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return tag, err
}

// GetTagByName returns a tag by its unique name, or nil if there is none.
func (s *Store) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM `+s.db.Schema+`.tags WHERE name = $1;`, name)
	tag, err := scanTag(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return tag, err
}

// GetTags returns tags with pagination.
func (s *Store) GetTags(ctx context.Context, skip, limit int) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM `+s.db.Schema+`.tags ORDER BY id LIMIT $1 OFFSET $2;`,
		limit, skip)
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

// UpdateTag applies a partial update and returns the updated tag, or
// nil if the tag does not exist.
func (s *Store) UpdateTag(ctx context.Context, id int64, update TagUpdate) (*Tag, error) {
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
	if len(sets) == 0 {
		return s.GetTag(ctx, id)
	}

	query := `UPDATE ` + s.db.Schema + `.tags SET `
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	args = append(args, id)
	query += `, updated_at = now() WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + tagColumns + `;`

	tag, err := scanTag(s.db.QueryRowContext(ctx, query, args...))
	if err == csql.ErrNoRows {
		return nil, nil
	}
	return tag, err
}

// DeleteTag deletes a tag and reports whether it existed. Experiments
// that reference the name keep it; tag references are stored by value.
func (s *Store) DeleteTag(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.db.Schema+`.tags WHERE id = $1;`, id)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	return count > 0, err
}
