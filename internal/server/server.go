/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server is the public HTTP surface: request decoding, parameter
// validation, hand-off to the coordinator, and error mapping. Handlers hold
// no state beyond their collaborators; everything interesting happens one
// layer down.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiv1 "github.com/jeffvincent/devspawn/api/v1"
	"github.com/jeffvincent/devspawn/internal/archive"
	"github.com/jeffvincent/devspawn/internal/config"
	"github.com/jeffvincent/devspawn/internal/coordinator"
	"github.com/jeffvincent/devspawn/internal/devcontainer"
	"github.com/jeffvincent/devspawn/internal/gateway"
	"github.com/jeffvincent/devspawn/internal/naming"
)

// maxUploadBytes caps multipart bodies. Workspace archives beyond this are
// rejected before buffering.
const maxUploadBytes = 256 << 20

// Server routes the public API.
type Server struct {
	coord *coordinator.Coordinator
	log   logr.Logger
	mux   *chi.Mux
}

// New builds the router with all routes and middleware attached.
func New(coord *coordinator.Coordinator, log logr.Logger) *Server {
	s := &Server{coord: coord, log: log, mux: chi.NewRouter()}

	s.mux.Use(chimiddleware.Recoverer)
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	s.mux.Use(s.observe)

	s.mux.Get("/", s.handleRoot)
	s.mux.Get("/health", s.handleHealth)
	s.mux.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.mux.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/simple", s.handleCreateSimple)
		r.Post("/devcontainer", s.handleCreateDevcontainer)
		r.Post("/workspace", s.handleCreateWorkspace)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/build-status", s.handleBuildStatus)
			r.Get("/build-logs", s.handleBuildLogs)
		})
	})

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

// observe records one log line and one metrics sample per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(r.Method, pattern, fmt.Sprintf("%d", ww.Status())).Inc()
		httpDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())
		s.log.V(1).Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", elapsed)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": config.ServiceName,
		"version": config.ServiceVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": config.ServiceSlug,
	})
}

func (s *Server) handleCreateSimple(w http.ResponseWriter, r *http.Request) {
	var req apiv1.VSCodeServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.coord.CreateSimple(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCreateDevcontainer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	data, ok := s.readUpload(w, r, "devcontainer_json")
	if !ok {
		return
	}
	cfg, err := devcontainer.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.coord.CreateWithBuild(r.Context(), req, coordinator.BuildSource{Devcontainer: cfg})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	data, ok := s.readUpload(w, r, "workspace")
	if !ok {
		return
	}
	if !archive.IsGzip(data) {
		writeError(w, http.StatusBadRequest, "workspace must be a gzipped tar archive")
		return
	}
	resp, err := s.coord.CreateWithBuild(r.Context(), req, coordinator.BuildSource{Archive: data})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.coord.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coord.Get(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coord.Delete(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coord.BuildStatus(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuildLogs(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coord.BuildLogs(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseForm decodes the multipart resource fields shared by the build
// endpoints.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (apiv1.VSCodeServerRequest, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return apiv1.VSCodeServerRequest{}, false
	}
	return apiv1.VSCodeServerRequest{
		UserID:            r.FormValue("user_id"),
		StorageSize:       r.FormValue("storage_size"),
		SharedStorageSize: r.FormValue("shared_storage_size"),
		MemoryRequest:     r.FormValue("memory_request"),
		MemoryLimit:       r.FormValue("memory_limit"),
		CPURequest:        r.FormValue("cpu_request"),
		CPULimit:          r.FormValue("cpu_limit"),
		BaseImage:         r.FormValue("base_image"),
		VSCodeVersion:     r.FormValue("vscode_version"),
	}, true
}

// readUpload buffers one uploaded file from the multipart form.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	file, _, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %s file", field))
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read %s file", field))
		return nil, false
	}
	return data, true
}

// respondError maps domain errors onto HTTP statuses: client mistakes to
// 400, absent instances to 404, everything else to 500.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apiv1.ErrInvalidRequest), errors.Is(err, naming.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "Instance not found")
	default:
		s.log.Error(err, "request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the {"detail": ...} error shape clients already parse.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
