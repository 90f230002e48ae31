package backend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/colschema"
	"github.com/wave-research/wave/core/dyntable"
	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/store"
)

type experimentTypeRequest struct {
	Name             string                 `json:"name"`
	Description      *string                `json:"description"`
	TableName        string                 `json:"table_name"`
	SchemaDefinition map[string]interface{} `json:"schema_definition"`
}

type experimentTypeUpdateRequest struct {
	Name             *string                `json:"name"`
	Description      *string                `json:"description"`
	SchemaDefinition map[string]interface{} `json:"schema_definition"`
}

// columnsResponse describes the physical columns of one dynamic data
// table, optionally bound to a concrete experiment.
type columnsResponse struct {
	ExperimentUUID *string           `json:"experiment_uuid,omitempty"`
	ExperimentType string            `json:"experiment_type"`
	Columns        []dyntable.Column `json:"columns"`
}

func (b *Backend) handleExperimentTypeRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle routes: /experiment-types")

	router.HandleFunc("/experiment-types", b.experimentTypesCreateWithAuth).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/experiment-types", b.experimentTypesListWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-types/name/{name}/columns", b.experimentTypesColumnsWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-types/{type_id:[0-9]+}", b.experimentTypesGetWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/experiment-types/{type_id:[0-9]+}", b.experimentTypesUpdateWithAuth).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/experiment-types/{type_id:[0-9]+}", b.experimentTypesDeleteWithAuth).Methods(http.MethodOptions, http.MethodDelete)
}

func experimentTypeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["type_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid experiment type id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (b *Backend) experimentTypesCreateWithAuth(w http.ResponseWriter, r *http.Request) {
	var request experimentTypeRequest
	if !readJSON(w, r, &request) {
		return
	}
	if request.Name == "" || request.TableName == "" {
		http.Error(w, "name and table_name must not be empty", http.StatusBadRequest)
		return
	}

	existing, err := b.store.GetExperimentTypeByName(r.Context(), request.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "experiment type with this name already exists", http.StatusBadRequest)
		return
	}

	et, err := b.store.CreateExperimentType(r.Context(), request.Name, request.Description,
		request.TableName, request.SchemaDefinition)
	if err != nil {
		var provisioning store.TableProvisioningError
		if errors.As(err, &provisioning) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.notifier.Notify(r.Context(), "experiment_type", events.OperationCreate, et)
	writeJSON(w, http.StatusCreated, et)
}

func isSchemaValidationError(err error) bool {
	var (
		reserved    colschema.ReservedColumnNameError
		unsupported colschema.UnsupportedColumnTypeError
		missing     colschema.MissingTypeFieldError
		invalid     colschema.InvalidDefinitionError
	)
	return errors.As(err, &reserved) || errors.As(err, &unsupported) ||
		errors.As(err, &missing) || errors.As(err, &invalid)
}

func (b *Backend) experimentTypesListWithAuth(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := paginationParams(w, r)
	if !ok {
		return
	}
	types, err := b.store.GetExperimentTypes(r.Context(), skip, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (b *Backend) experimentTypesGetWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentTypeID(w, r)
	if !ok {
		return
	}
	et, err := b.store.GetExperimentType(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if et == nil {
		http.Error(w, "experiment type not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (b *Backend) experimentTypesUpdateWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentTypeID(w, r)
	if !ok {
		return
	}
	var request experimentTypeUpdateRequest
	if !readJSON(w, r, &request) {
		return
	}

	if request.Name != nil {
		existing, err := b.store.GetExperimentTypeByName(r.Context(), *request.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.ID != id {
			http.Error(w, "experiment type with this name already exists", http.StatusBadRequest)
			return
		}
	}

	et, err := b.store.UpdateExperimentType(r.Context(), id, store.ExperimentTypeUpdate{
		Name:             request.Name,
		Description:      request.Description,
		SchemaDefinition: request.SchemaDefinition,
	})
	if err != nil {
		if isSchemaValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if et == nil {
		http.Error(w, "experiment type not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "experiment_type", events.OperationUpdate, et)
	writeJSON(w, http.StatusOK, et)
}

func (b *Backend) experimentTypesDeleteWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentTypeID(w, r)
	if !ok {
		return
	}
	deleted, err := b.store.DeleteExperimentType(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "experiment type not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "experiment_type", events.OperationDelete, map[string]int64{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Experiment type deleted successfully"})
}

func (b *Backend) experimentTypesColumnsWithAuth(w http.ResponseWriter, r *http.Request) {
	et, err := b.store.GetExperimentTypeByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if et == nil {
		http.Error(w, "experiment type not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, columnsResponse{
		ExperimentType: et.Name,
		Columns:        b.tables.Columns(r.Context(), et.TableName),
	})
}
