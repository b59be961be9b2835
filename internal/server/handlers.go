package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/models"
)

func (s *Server) handleBuildEngine(w http.ResponseWriter, r *http.Request) {
	var req models.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("build engine request",
		zap.String("engine", req.QueryEngine),
		zap.String("doc_url", req.DocURL))
	result, err := s.builder.Build(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrAlreadyExists):
			s.respondError(w, http.StatusConflict, "query engine already exists")
		case errors.Is(err, errs.ErrNoDocumentsIndexed):
			s.respondError(w, http.StatusUnprocessableEntity, "no documents could be indexed")
		case errors.Is(err, errs.ErrSourceUnavailable):
			s.respondError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("build failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := s.storage.ListEngines(r.Context())
	if err != nil {
		s.logger.Error("list engines failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if engines == nil {
		engines = []*models.QueryEngine{}
	}
	s.respondJSON(w, http.StatusOK, engines)
}

func (s *Server) handleGetEngine(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	engine, err := s.storage.GetEngineByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "query engine not found")
			return
		}
		s.logger.Error("get engine failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, engine)
}

func (s *Server) handleDeleteEngine(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.logger.Debug("delete engine request", zap.String("engine", name))
	if err := s.builder.Delete(r.Context(), name); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "query engine not found")
			return
		}
		s.logger.Error("delete engine failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("engine", req.QueryEngine))
	resp, err := s.matcher.Query(r.Context(), &req)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
