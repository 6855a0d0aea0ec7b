package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cortex-engine/entity-core/internal/entity"
	"github.com/cortex-engine/entity-core/internal/search"
	"github.com/cortex-engine/entity-core/pkg/types"
)

const maxBodyBytes = 4 << 20

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"types": s.registry.ListTypes()})
}

type createEntityRequest struct {
	ID            string         `json:"id,omitempty"`
	EntityType    string         `json:"entityType"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DeduplicateID bool           `json:"deduplicateId,omitempty"`
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.EntityType == "" {
		s.badRequest(w, "entityType is required")
		return
	}

	result, err := s.service.CreateEntity(r.Context(), entity.CreateInput{
		ID:         req.ID,
		EntityType: req.EntityType,
		Content:    req.Content,
		Metadata:   req.Metadata,
	}, entity.WriteOptions{DeduplicateID: req.DeduplicateID})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

type updateEntityRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req updateEntityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.service.UpdateEntity(r.Context(), &types.Entity{
		ID:         vars["id"],
		EntityType: vars["type"],
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var e *types.Entity
	var err error
	if r.URL.Query().Get("raw") == "true" {
		e, err = s.service.GetEntityRaw(r.Context(), vars["type"], vars["id"])
	} else {
		e, err = s.service.GetEntity(r.Context(), vars["type"], vars["id"])
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	removed, err := s.service.DeleteEntity(r.Context(), vars["type"], vars["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !removed {
		s.respondJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
			Code:    "not_found",
			Message: "entity " + vars["type"] + "/" + vars["id"] + " does not exist",
		}})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listOptionsFromQuery parses list parameters: limit, offset,
// publishedOnly, sort ("field:desc,other" comma list) and meta.<key>
// equality filters.
func listOptionsFromQuery(q map[string][]string) entity.ListOptions {
	opts := entity.ListOptions{}
	get := func(key string) string {
		if vs := q[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	if v, err := strconv.Atoi(get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(get("offset")); err == nil {
		opts.Offset = v
	}
	opts.PublishedOnly = get("publishedOnly") == "true"

	if sortParam := get("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			field, dir, _ := strings.Cut(strings.TrimSpace(part), ":")
			if field == "" {
				continue
			}
			opts.SortFields = append(opts.SortFields, entity.SortField{
				Field: field,
				Desc:  dir == "desc",
			})
		}
	}

	for key, vs := range q {
		if !strings.HasPrefix(key, "meta.") || len(vs) == 0 {
			continue
		}
		if opts.MetadataFilters == nil {
			opts.MetadataFilters = make(map[string]any)
		}
		opts.MetadataFilters[strings.TrimPrefix(key, "meta.")] = vs[0]
	}
	return opts
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	opts := listOptionsFromQuery(r.URL.Query())

	entities, err := s.service.ListEntities(r.Context(), vars["type"], opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if entities == nil {
		entities = []*types.Entity{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) handleCountEntities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	opts := listOptionsFromQuery(r.URL.Query())

	count, err := s.service.CountEntities(r.Context(), vars["type"], opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"count": count})
}

type searchRequest struct {
	Query string `json:"query"`
	search.Options
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	results, err := s.service.Search(r.Context(), req.Query, req.Options)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if results == nil {
		results = []*search.Result{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if s.mirror == nil {
		s.respondJSON(w, http.StatusNotImplemented, errorEnvelope{Error: errorBody{
			Code:    "not_available",
			Message: "related-entity lookups are not enabled",
		}})
		return
	}
	vars := mux.Vars(r)

	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	related, err := s.mirror.Related(r.Context(), vars["type"], vars["id"], limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"related": related})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobsByEntity(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entityId")
	if entityID == "" {
		s.badRequest(w, "entityId query parameter is required")
		return
	}

	jobs, err := s.queue.GetStatusByEntity(r.Context(), entityID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetStats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pool.Stats())
}
