package backend

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/dyntable"
	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
)

type dataCreateRequest struct {
	ParticipantID string                 `json:"participant_id"`
	Data          map[string]interface{} `json:"data"`
}

type dataUpdateRequest struct {
	ParticipantID *string                `json:"participant_id"`
	Data          map[string]interface{} `json:"data"`
}

type dataQueryRequest struct {
	ParticipantID *string                `json:"participant_id"`
	Filters       map[string]interface{} `json:"filters"`
	CreatedAfter  *time.Time             `json:"created_after"`
	CreatedBefore *time.Time             `json:"created_before"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

type dataCountResponse struct {
	Count          int     `json:"count"`
	ParticipantID  *string `json:"participant_id"`
	ExperimentUUID string  `json:"experiment_id"`
}

type dataDeleteResponse struct {
	Message        string `json:"message"`
	DeletedID      int64  `json:"deleted_id"`
	ExperimentUUID string `json:"experiment_id"`
}

func (b *Backend) handleExperimentDataRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle routes: /experiment-data")

	router.HandleFunc("/experiment-data/{experiment_uuid}/data",
		b.dataCreateWithAuth).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data",
		b.dataListWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/count",
		b.dataCountWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/columns",
		b.dataColumnsWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/query",
		b.dataQueryWithAuth).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/row/{row_id:[0-9]+}",
		b.dataGetRowWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/row/{row_id:[0-9]+}",
		b.dataUpdateRowWithAuth).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/experiment-data/{experiment_uuid}/data/row/{row_id:[0-9]+}",
		b.dataDeleteRowWithAuth).Methods(http.MethodOptions, http.MethodDelete)
}

func rowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["row_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid row id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// dataFilterParams reads the optional row filter query parameters.
// Dates are RFC 3339.
func dataFilterParams(w http.ResponseWriter, r *http.Request, experimentUUID uuid.UUID) (dyntable.Filter, bool) {
	filter := dyntable.Filter{ExperimentUUID: &experimentUUID}

	params := r.URL.Query()
	if s := params.Get("participant_id"); s != "" {
		filter.ParticipantID = &s
	}
	if s := params.Get("created_after"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "invalid created_after: "+err.Error(), http.StatusBadRequest)
			return filter, false
		}
		filter.CreatedAfter = &t
	}
	if s := params.Get("created_before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "invalid created_before: "+err.Error(), http.StatusBadRequest)
			return filter, false
		}
		filter.CreatedBefore = &t
	}
	return filter, true
}

// rowWindowParams reads limit and offset for row listings. The data
// routes page with an offset, unlike the registry routes which use
// skip.
func rowWindowParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = 100, 0

	params := r.URL.Query()
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "parameter limit out of range: "+s, http.StatusBadRequest)
			return 0, 0, false
		}
		limit = n
	}
	if s := params.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "parameter offset out of range: "+s, http.StatusBadRequest)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (b *Backend) dataCreateWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	var request dataCreateRequest
	if !readJSON(w, r, &request) {
		return
	}

	tableName := e.ExperimentType.TableName
	id, err := b.tables.InsertRow(r.Context(), tableName, e.UUID, request.ParticipantID, request.Data)
	if err != nil {
		var unknown dyntable.UnknownColumnsError
		if errors.As(err, &unknown) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create experiment data row", http.StatusBadRequest)
		return
	}

	row := b.tables.GetRowByID(r.Context(), tableName, id, &e.UUID)
	b.notifier.Notify(r.Context(), "experiment_data", events.OperationCreate, row)
	writeJSON(w, http.StatusCreated, row)
}

func (b *Backend) dataListWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	filter, ok := dataFilterParams(w, r, e.UUID)
	if !ok {
		return
	}
	limit, offset, ok := rowWindowParams(w, r)
	if !ok {
		return
	}
	rows := b.tables.GetRows(r.Context(), e.ExperimentType.TableName, filter, limit, offset)
	writeJSON(w, http.StatusOK, rows)
}

func (b *Backend) dataCountWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	filter, ok := dataFilterParams(w, r, e.UUID)
	if !ok {
		return
	}
	count := b.tables.CountRows(r.Context(), e.ExperimentType.TableName, filter)
	writeJSON(w, http.StatusOK, dataCountResponse{
		Count:          count,
		ParticipantID:  filter.ParticipantID,
		ExperimentUUID: e.UUID.String(),
	})
}

func (b *Backend) dataColumnsWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	columns := b.tables.Columns(r.Context(), e.ExperimentType.TableName)
	writeJSON(w, http.StatusOK, columns)
}

func (b *Backend) dataGetRowWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	id, ok := rowID(w, r)
	if !ok {
		return
	}
	row := b.tables.GetRowByID(r.Context(), e.ExperimentType.TableName, id, &e.UUID)
	if row == nil {
		http.Error(w, "experiment data row not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (b *Backend) dataUpdateRowWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	id, ok := rowID(w, r)
	if !ok {
		return
	}
	var request dataUpdateRequest
	if !readJSON(w, r, &request) {
		return
	}

	update := map[string]interface{}{}
	if request.ParticipantID != nil {
		update["participant_id"] = *request.ParticipantID
	}
	for key, value := range request.Data {
		update[key] = value
	}

	tableName := e.ExperimentType.TableName
	if !b.tables.UpdateRow(r.Context(), tableName, id, update, &e.UUID) {
		http.Error(w, "experiment data row not found", http.StatusNotFound)
		return
	}
	row := b.tables.GetRowByID(r.Context(), tableName, id, &e.UUID)
	b.notifier.Notify(r.Context(), "experiment_data", events.OperationUpdate, row)
	writeJSON(w, http.StatusOK, row)
}

func (b *Backend) dataDeleteRowWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	id, ok := rowID(w, r)
	if !ok {
		return
	}
	if !b.tables.DeleteRow(r.Context(), e.ExperimentType.TableName, id, &e.UUID) {
		http.Error(w, "experiment data row not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "experiment_data", events.OperationDelete, map[string]interface{}{
		"id":              id,
		"experiment_uuid": e.UUID.String(),
	})
	writeJSON(w, http.StatusOK, dataDeleteResponse{
		Message:        "Experiment data row deleted successfully",
		DeletedID:      id,
		ExperimentUUID: e.UUID.String(),
	})
}

func (b *Backend) dataQueryWithAuth(w http.ResponseWriter, r *http.Request) {
	e := b.loadExperiment(w, r)
	if e == nil {
		return
	}
	var request dataQueryRequest
	if !readJSON(w, r, &request) {
		return
	}
	offset, limit := clampPagination(request.Offset, request.Limit)

	filter := dyntable.Filter{
		ExperimentUUID: &e.UUID,
		ParticipantID:  request.ParticipantID,
		CreatedAfter:   request.CreatedAfter,
		CreatedBefore:  request.CreatedBefore,
		Custom:         request.Filters,
	}
	rows := b.tables.GetRows(r.Context(), e.ExperimentType.TableName, filter, limit, offset)
	writeJSON(w, http.StatusOK, rows)
}
