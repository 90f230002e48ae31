package backend

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/store"
)

type tagRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type tagUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (b *Backend) handleTagRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle routes: /tags")

	router.HandleFunc("/tags", b.tagsCreateWithAuth).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/tags", b.tagsListWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/tags/name/{name}", b.tagsGetByNameWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/tags/{tag_id:[0-9]+}", b.tagsGetWithAuth).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/tags/{tag_id:[0-9]+}", b.tagsUpdateWithAuth).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/tags/{tag_id:[0-9]+}", b.tagsDeleteWithAuth).Methods(http.MethodOptions, http.MethodDelete)
}

func tagID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["tag_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid tag id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (b *Backend) tagsCreateWithAuth(w http.ResponseWriter, r *http.Request) {
	var request tagRequest
	if !readJSON(w, r, &request) {
		return
	}
	if request.Name == "" {
		http.Error(w, "tag name must not be empty", http.StatusBadRequest)
		return
	}

	existing, err := b.store.GetTagByName(r.Context(), request.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "tag with this name already exists", http.StatusBadRequest)
		return
	}

	tag, err := b.store.CreateTag(r.Context(), request.Name, request.Description)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.notifier.Notify(r.Context(), "tag", events.OperationCreate, tag)
	writeJSON(w, http.StatusCreated, tag)
}

func (b *Backend) tagsListWithAuth(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := paginationParams(w, r)
	if !ok {
		return
	}
	tags, err := b.store.GetTags(r.Context(), skip, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (b *Backend) tagsGetWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := tagID(w, r)
	if !ok {
		return
	}
	tag, err := b.store.GetTag(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tag == nil {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (b *Backend) tagsGetByNameWithAuth(w http.ResponseWriter, r *http.Request) {
	tag, err := b.store.GetTagByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tag == nil {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (b *Backend) tagsUpdateWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := tagID(w, r)
	if !ok {
		return
	}
	var request tagUpdateRequest
	if !readJSON(w, r, &request) {
		return
	}

	if request.Name != nil {
		existing, err := b.store.GetTagByName(r.Context(), *request.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.ID != id {
			http.Error(w, "tag with this name already exists", http.StatusBadRequest)
			return
		}
	}

	tag, err := b.store.UpdateTag(r.Context(), id, store.TagUpdate{
		Name:        request.Name,
		Description: request.Description,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tag == nil {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "tag", events.OperationUpdate, tag)
	writeJSON(w, http.StatusOK, tag)
}

func (b *Backend) tagsDeleteWithAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := tagID(w, r)
	if !ok {
		return
	}
	deleted, err := b.store.DeleteTag(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "tag not found", http.StatusNotFound)
		return
	}
	b.notifier.Notify(r.Context(), "tag", events.OperationDelete, map[string]int64{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Tag deleted successfully"})
}
