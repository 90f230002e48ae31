// Package search composes the experiment registry and the dynamic
// table manager into cross-cutting queries: tag and text searches over
// the registry, and the scatter-gather collection of dynamic data rows
// across all experiments carrying a set of tags.
package search

import (
	"context"
	"time"

	"github.com/wave-research/wave/core/dyntable"
	"github.com/wave-research/wave/core/store"
)

// internalLimit bounds the candidate set of a scatter-gather before
// in-memory pagination.
const internalLimit = 1000

// Service answers search requests. It owns no tables of its own.
type Service struct {
	store  *store.Store
	tables *dyntable.Manager
}

// New creates a search service over the passed store and its dynamic
// table manager.
func New(st *store.Store, tables *dyntable.Manager) *Service {
	return &Service{store: st, tables: tables}
}

// ExperimentsByTags returns experiments carrying the passed tags,
// newest first. With matchAll set an experiment must carry every tag,
// otherwise any one of them suffices.
func (s *Service) ExperimentsByTags(ctx context.Context, tags []string, matchAll bool,
	createdAfter, createdBefore *time.Time, skip, limit int) ([]store.Experiment, error) {
	return s.store.SearchExperiments(ctx, store.ExperimentSearchCriteria{
		Tags:          tags,
		MatchAllTags:  matchAll,
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
	}, skip, limit)
}

// ExperimentTypesByText matches a case-insensitive substring against
// experiment type names and descriptions.
func (s *Service) ExperimentTypesByText(ctx context.Context, text string,
	createdAfter, createdBefore *time.Time, skip, limit int) ([]store.ExperimentType, error) {
	return s.store.SearchExperimentTypes(ctx, text, createdAfter, createdBefore, skip, limit)
}

// TagsByText matches a case-insensitive substring against tag names
// and descriptions.
func (s *Service) TagsByText(ctx context.Context, text string,
	createdAfter, createdBefore *time.Time, skip, limit int) ([]store.Tag, error) {
	return s.store.SearchTags(ctx, text, createdAfter, createdBefore, skip, limit)
}

// ExperimentsByDescription matches a case-insensitive substring against
// experiment descriptions, optionally scoped to one experiment type.
func (s *Service) ExperimentsByDescription(ctx context.Context, text string,
	experimentTypeID *int64, createdAfter, createdBefore *time.Time,
	skip, limit int) ([]store.Experiment, error) {
	return s.store.SearchExperiments(ctx, store.ExperimentSearchCriteria{
		Text:             &text,
		ExperimentTypeID: experimentTypeID,
		CreatedAfter:     createdAfter,
		CreatedBefore:    createdBefore,
	}, skip, limit)
}

// Experiments runs a conjunction of all set criteria.
func (s *Service) Experiments(ctx context.Context, criteria store.ExperimentSearchCriteria,
	skip, limit int) ([]store.Experiment, error) {
	return s.store.SearchExperiments(ctx, criteria, skip, limit)
}

// ExperimentInfo summarizes one experiment contributing rows to a
// DataByTags result.
type ExperimentInfo struct {
	Description string   `json:"description"`
	TypeName    string   `json:"type_name"`
	Tags        []string `json:"tags"`
	DataCount   int      `json:"data_count"`
}

// Pagination reports the window applied to a DataByTags result.
type Pagination struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// DataByTagsResult is the aggregated data of all experiments matching
// a tag search. Every row carries an experiment_metadata object naming
// the experiment and type it came from.
type DataByTagsResult struct {
	Data             []dyntable.Row            `json:"data"`
	TotalRows        int                       `json:"total_rows"`
	TotalExperiments int                       `json:"total_experiments"`
	ExperimentInfo   map[string]ExperimentInfo `json:"experiment_info"`
	Pagination       Pagination                `json:"pagination"`
}

// DataByTags finds all experiments carrying the passed tags and
// collects their dynamic data rows into one result. Rows are gathered
// per experiment in registry order and paginated in memory, so skip
// and limit window the combined row set, not the experiment set.
func (s *Service) DataByTags(ctx context.Context, tags []string, matchAll bool,
	createdAfter, createdBefore *time.Time, skip, limit int) (*DataByTagsResult, error) {
	experiments, err := s.store.SearchExperiments(ctx, store.ExperimentSearchCriteria{
		Tags:          tags,
		MatchAllTags:  matchAll,
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
	}, 0, internalLimit)
	if err != nil {
		return nil, err
	}

	result := DataByTagsResult{
		Data:           []dyntable.Row{},
		ExperimentInfo: map[string]ExperimentInfo{},
		Pagination:     Pagination{Skip: skip, Limit: limit},
	}

	var rows []dyntable.Row
	for i := range experiments {
		e := &experiments[i]
		if e.ExperimentType == nil {
			continue
		}
		experimentUUID := e.UUID
		filter := dyntable.Filter{
			ExperimentUUID: &experimentUUID,
			CreatedAfter:   createdAfter,
			CreatedBefore:  createdBefore,
		}
		experimentRows := s.tables.GetRows(ctx, e.ExperimentType.TableName, filter, internalLimit, 0)
		for _, row := range experimentRows {
			row["experiment_metadata"] = experimentMetadata(e)
			rows = append(rows, row)
		}
		result.ExperimentInfo[e.UUID.String()] = ExperimentInfo{
			Description: e.Description,
			TypeName:    e.ExperimentType.Name,
			Tags:        e.Tags,
			DataCount:   len(experimentRows),
		}
		result.TotalExperiments++
	}

	result.TotalRows = len(rows)
	result.Pagination.Total = len(rows)
	if skip < len(rows) {
		end := skip + limit
		if limit <= 0 || end > len(rows) {
			end = len(rows)
		}
		result.Data = rows[skip:end]
	}
	return &result, nil
}

func experimentMetadata(e *store.Experiment) map[string]interface{} {
	return map[string]interface{}{
		"experiment_uuid":        e.UUID.String(),
		"experiment_description": e.Description,
		"experiment_type_name":   e.ExperimentType.Name,
		"experiment_tags":        e.Tags,
	}
}
