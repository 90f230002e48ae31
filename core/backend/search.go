package backend

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/access"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/store"
)

// searchWindow is the common paging part of every search request body.
type searchWindow struct {
	CreatedAfter  *time.Time `json:"created_after"`
	CreatedBefore *time.Time `json:"created_before"`
	Skip          int        `json:"skip"`
	Limit         int        `json:"limit"`
}

func (s *searchWindow) clamp() {
	s.Skip, s.Limit = clampPagination(s.Skip, s.Limit)
}

type tagSearchRequest struct {
	searchWindow
	Tags     []string `json:"tags"`
	MatchAll *bool    `json:"match_all"`
}

// matchAll defaults to true: a missing field means every tag must match.
func (r *tagSearchRequest) matchAllTags() bool {
	return r.MatchAll == nil || *r.MatchAll
}

type textSearchRequest struct {
	searchWindow
	SearchText string `json:"search_text"`
}

type descriptionSearchRequest struct {
	searchWindow
	ExperimentTypeID int64  `json:"experiment_type_id"`
	SearchText       string `json:"search_text"`
}

type advancedSearchRequest struct {
	searchWindow
	SearchText       *string  `json:"search_text"`
	Tags             []string `json:"tags"`
	MatchAllTags     bool     `json:"match_all_tags"`
	ExperimentTypeID *int64   `json:"experiment_type_id"`
}

type paginationInfo struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type experimentSearchResponse struct {
	Experiments []store.Experiment `json:"experiments"`
	Total       int                `json:"total"`
	Pagination  paginationInfo     `json:"pagination"`
}

type experimentTypeSearchResponse struct {
	ExperimentTypes []store.ExperimentType `json:"experiment_types"`
	Total           int                    `json:"total"`
	Pagination      paginationInfo         `json:"pagination"`
}

type tagSearchResponse struct {
	Tags       []store.Tag    `json:"tags"`
	Total      int            `json:"total"`
	Pagination paginationInfo `json:"pagination"`
}

func (b *Backend) handleSearchRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle routes: /search")

	router.HandleFunc("/search/experiments/by-tags",
		b.secured(access.RoleResearcher, b.searchExperimentsByTagsWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/search/experiment-types/by-description",
		b.secured(access.RoleResearcher, b.searchExperimentTypesWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/search/tags/by-name",
		b.secured(access.RoleResearcher, b.searchTagsWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/search/experiments/by-description-and-type",
		b.secured(access.RoleResearcher, b.searchExperimentsByDescriptionWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/search/experiments/advanced",
		b.secured(access.RoleResearcher, b.searchExperimentsAdvancedWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/search/experiment-data/by-tags",
		b.secured(access.RoleResearcher, b.searchDataByTagsWithAuth)).Methods(http.MethodOptions, http.MethodPost)
}

func (b *Backend) searchExperimentsByTagsWithAuth(w http.ResponseWriter, r *http.Request) {
	var request tagSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	if len(request.Tags) == 0 {
		http.Error(w, "tags must not be empty", http.StatusBadRequest)
		return
	}
	request.clamp()

	experiments, err := b.search.ExperimentsByTags(r.Context(), request.Tags, request.matchAllTags(),
		request.CreatedAfter, request.CreatedBefore, request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, experimentSearchResponse{
		Experiments: experiments,
		Total:       len(experiments),
		Pagination:  paginationInfo{Skip: request.Skip, Limit: request.Limit, Total: len(experiments)},
	})
}

func (b *Backend) searchExperimentTypesWithAuth(w http.ResponseWriter, r *http.Request) {
	var request textSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	request.clamp()

	types, err := b.search.ExperimentTypesByText(r.Context(), request.SearchText,
		request.CreatedAfter, request.CreatedBefore, request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, experimentTypeSearchResponse{
		ExperimentTypes: types,
		Total:           len(types),
		Pagination:      paginationInfo{Skip: request.Skip, Limit: request.Limit, Total: len(types)},
	})
}

func (b *Backend) searchTagsWithAuth(w http.ResponseWriter, r *http.Request) {
	var request textSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	request.clamp()

	tags, err := b.search.TagsByText(r.Context(), request.SearchText,
		request.CreatedAfter, request.CreatedBefore, request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tagSearchResponse{
		Tags:       tags,
		Total:      len(tags),
		Pagination: paginationInfo{Skip: request.Skip, Limit: request.Limit, Total: len(tags)},
	})
}

func (b *Backend) searchExperimentsByDescriptionWithAuth(w http.ResponseWriter, r *http.Request) {
	var request descriptionSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	if request.ExperimentTypeID == 0 {
		http.Error(w, "experiment_type_id is required", http.StatusBadRequest)
		return
	}
	request.clamp()

	experiments, err := b.search.ExperimentsByDescription(r.Context(), request.SearchText,
		&request.ExperimentTypeID, request.CreatedAfter, request.CreatedBefore,
		request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, experimentSearchResponse{
		Experiments: experiments,
		Total:       len(experiments),
		Pagination:  paginationInfo{Skip: request.Skip, Limit: request.Limit, Total: len(experiments)},
	})
}

func (b *Backend) searchExperimentsAdvancedWithAuth(w http.ResponseWriter, r *http.Request) {
	var request advancedSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	request.clamp()

	experiments, err := b.search.Experiments(r.Context(), store.ExperimentSearchCriteria{
		Text:             request.SearchText,
		Tags:             request.Tags,
		MatchAllTags:     request.MatchAllTags,
		ExperimentTypeID: request.ExperimentTypeID,
		CreatedAfter:     request.CreatedAfter,
		CreatedBefore:    request.CreatedBefore,
	}, request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, experimentSearchResponse{
		Experiments: experiments,
		Total:       len(experiments),
		Pagination:  paginationInfo{Skip: request.Skip, Limit: request.Limit, Total: len(experiments)},
	})
}

func (b *Backend) searchDataByTagsWithAuth(w http.ResponseWriter, r *http.Request) {
	var request tagSearchRequest
	if !readJSON(w, r, &request) {
		return
	}
	if len(request.Tags) == 0 {
		http.Error(w, "tags must not be empty", http.StatusBadRequest)
		return
	}
	request.clamp()

	result, err := b.search.DataByTags(r.Context(), request.Tags, request.matchAllTags(),
		request.CreatedAfter, request.CreatedBefore, request.Skip, request.Limit)
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
