package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// EntityListResponse is returned by GET /entities.
type EntityListResponse struct {
	Entities []*entity.Entity `json:"entities"`
	Count    int              `json:"count"`
	Revision string           `json:"revision"`
	Stale    bool             `json:"stale"`
}

// handleListEntities returns cached entities, optionally filtered by model.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	var model entity.ModelType
	if q := r.URL.Query().Get("model"); q != "" {
		mt, err := entity.ParseModelType(q)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		model = mt
	}

	view := s.client.View()
	list := view.List(model)
	writeJSON(w, http.StatusOK, EntityListResponse{
		Entities: list,
		Count:    len(list),
		Revision: view.Revision().UpdateID,
		Stale:    view.Health().Stale,
	})
}

// handleGetEntity returns one entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.client.View().Get(id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		writeInternalError(w, "failed to read entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
