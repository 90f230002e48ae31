package backend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/access"
	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/pointers"
	"github.com/wave-research/wave/core/store"
)

type experimentRequest struct {
	ExperimentTypeID int64                  `json:"experiment_type_id"`
	ParticipantID    string                 `json:"participant_id"`
	Description      string                 `json:"description"`
	Tags             []string               `json:"tags"`
	AdditionalData   map[string]interface{} `json:"additional_data"`
}

type experimentUpdateRequest struct {
	ParticipantID  *string                `json:"participant_id"`
	Description    *string                `json:"description"`
	Tags           []string               `json:"tags"`
	AdditionalData map[string]interface{} `json:"additional_data"`
}

func (b *Backend) handleExperimentRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle routes: /experiments")

	router.HandleFunc("/experiments",
		b.secured(access.RoleResearcher, b.experimentsCreateWithAuth)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/experiments",
		b.secured(access.RoleResearcher, b.experimentsListWithAuth)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiments/{experiment_uuid}/columns",
		b.secured(access.RoleResearcher, b.experimentsColumnsWithAuth)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiments/{experiment_uuid}",
		b.secured(access.RoleResearcher, b.experimentsGetWithAuth)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiments/{experiment_uuid}",
		b.secured(access.RoleResearcher, b.experimentsUpdateWithAuth)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/experiments/{experiment_uuid}",
		b.secured(access.RoleAdmin, b.experimentsDeleteWithAuth)).Methods(http.MethodOptions, http.MethodDelete)
}

func experimentUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["experiment_uuid"])
	if err != nil {
		http.Error(w, "invalid experiment uuid", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

// loadExperiment resolves the experiment of a request, writing the 404
// response itself when there is none.
func (b *Backend) loadExperiment(w http.ResponseWriter, r *http.Request) *store.Experiment {
	id, ok := experimentUUID(w, r)
	if !ok {
		return nil
	}
	e, err := b.store.GetExperiment(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	if e == nil {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return nil
	}
	return e
}

func (b *Backend) experimentsCreateWithAuth(w http.ResponseWriter, r *http.Request) {
	var request experimentRequest
	if !readJSON(w, r, &request) {
		return
	}

	et, err := b.store.GetExperimentType(r.Context(), request.ExperimentTypeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if et == nil {
		http.Error(w, "experiment type not found", http.StatusBadRequest)
		return
	}

	e, err := b.store.CreateExperiment(r.Context(), request.ExperimentTypeID,
		request.ParticipantID, request.Description, request.Tags, request.AdditionalData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.notifier.Notify(r.Context(), "experiment", events.OperationCreate, e)
	writeJSON(w, http.StatusCreated, e)
}

func isTagError(err error) bool {
	var (
		notFound store.TagNotFoundError
		tooMany  store.TooManyTagsError
	)
	return errors.As(err, &notFound) || errors.As(err, &tooMany)
}

func (b *Backend) experimentsListWithAuth(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := paginationParams(w, r)
	if !ok {
		return
	}

	filter := store.ExperimentFilter{}
	params := r.URL.Query()
	if s := params.Get("experiment_type_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid experiment_type_id", http.StatusBadRequest)
			return
		}
		filter.ExperimentTypeID = &id
	}
	if s := params.Get("participant_id"); s != "" {
		filter.ParticipantID = pointers.StringPtr(s)
	}
	if tags, ok := params["tags"]; ok {
		filter.Tags = tags
	}

	experiments, err := b.store.GetExperiments(r.Context(), filter, skip, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, experiments)
}

func (b *Backend) experimentsGetWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (b *Backend) experimentsUpdateWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentUUID(w, r)
	if !ok {
		return
	}
	var request experimentUpdateRequest
	if !readJSON(w, r, &request) {
		return
	}

	e, err := b.store.UpdateExperiment(r.Context(), id, store.ExperimentUpdate{
		ParticipantID:  request.ParticipantID,
		Description:    request.Description,
		Tags:           request.Tags,
		AdditionalData: request.AdditionalData,
	})
	if err != nil {
		if isTagError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if e == nil {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "experiment", events.OperationUpdate, e)
	writeJSON(w, http.StatusOK, e)
}

func (b *Backend) experimentsDeleteWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentUUID(w, r)
	if !ok {
		return
	}
	deleted, err := b.store.DeleteExperiment(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "experiment", events.OperationDelete, map[string]string{"uuid": id.String()})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Experiment deleted successfully"})
}

func (b *Backend) experimentsColumnsWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	id := e.UUID.String()
	writeJSON(w, http.StatusOK, columnsResponse{
		ExperimentUUID: &id,
		ExperimentType: e.ExperimentType.Name,
		Columns:        b.tables.Columns(r.Context(), e.ExperimentType.TableName),
	})
}
