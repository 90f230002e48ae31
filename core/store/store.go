/*Package store owns the static metadata tables of the wave backend:
tags, experiment types and experiments.

Experiment types couple a metadata row to a physical dynamic table;
creating one provisions the table through the dynamic table manager and
rolls the row back if provisioning fails, deleting one drops the table
first. Experiments reference one experiment type and carry a flat list
of tag names which must exist as tags at write time.
*/
package store

import (
	"fmt"

	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/dyntable"
)

// Store provides access to the metadata tables.
type Store struct {
	db     *csql.DB
	tables *dyntable.Manager
}

// MaxTagsPerExperiment limits the tag list of one experiment.
const MaxTagsPerExperiment = 10

// New creates the static tables if they do not exist yet and returns
// the store. It panics on DDL failure, this is a configuration error.
func New(db *csql.DB, tables *dyntable.Manager) *Store {
	schema := db.Schema
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + schema + `.tags
(id serial PRIMARY KEY,
name varchar(100) NOT NULL UNIQUE,
description text,
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ` + schema + `.experiment_types
(id serial PRIMARY KEY,
name varchar(100) NOT NULL UNIQUE,
description text,
table_name varchar(100) NOT NULL UNIQUE,
schema_definition json NOT NULL DEFAULT '{}',
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ` + schema + `.experiments
(uuid uuid PRIMARY KEY,
experiment_type_id integer NOT NULL REFERENCES ` + schema + `.experiment_types(id),
participant_id varchar(100) NOT NULL,
description text NOT NULL,
tags varchar(100)[] NOT NULL DEFAULT '{}',
additional_data json NOT NULL DEFAULT '{}',
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS experiments_participant_id_idx ON ` + schema + `.experiments(participant_id);
CREATE INDEX IF NOT EXISTS experiments_type_id_idx ON ` + schema + `.experiments(experiment_type_id);`)
	if err != nil {
		panic(fmt.Errorf("cannot create metadata tables: %w", err))
	}
	return &Store{db: db, tables: tables}
}

// Tables returns the dynamic table manager the store provisions with.
func (s *Store) Tables() *dyntable.Manager {
	return s.tables
}

// TagNotFoundError indicates an experiment references a tag name that
// does not exist.
type TagNotFoundError struct {
	Name string
}

func (e TagNotFoundError) Error() string {
	return fmt.Sprintf("tag '%s' does not exist", e.Name)
}

// TableProvisioningError indicates the dynamic table backing a new
// experiment type could not be created. The metadata row has already
// been rolled back when this error is returned.
type TableProvisioningError struct {
	TableName string
}

func (e TableProvisioningError) Error() string {
	return fmt.Sprintf("could not provision table '%s'", e.TableName)
}

// TooManyTagsError indicates an experiment declares more than
// MaxTagsPerExperiment tags.
type TooManyTagsError struct {
	Count int
}

func (e TooManyTagsError) Error() string {
	return fmt.Sprintf("too many tags: %d, the maximum is %d", e.Count, MaxTagsPerExperiment)
}

// validateTags checks that every tag name exists as a tag row. It is
// called before any write; tags are stored by value in a flat array, a
// foreign key cannot enforce this.
func (s *Store) validateTags(tags []string) error {
	if len(tags) > MaxTagsPerExperiment {
		return TooManyTagsError{Count: len(tags)}
	}
	for _, name := range tags {
		var id int64
		err := s.db.QueryRow(`SELECT id FROM `+s.db.Schema+`.tags WHERE name = $1;`, name).Scan(&id)
		if err == csql.ErrNoRows {
			return TagNotFoundError{Name: name}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
