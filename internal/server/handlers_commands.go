package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conjurehq/conjure/internal/registry"
	"github.com/conjurehq/conjure/internal/script"
)

type registerRequest struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

type renameRequest struct {
	To string `json:"to"`
}

type invokeRequest struct {
	Args map[string]string `json:"args"`
}

type describeRequest struct {
	Request string `json:"request"`
}

type provisionRequest struct {
	BinID     string `json:"binId"`
	MasterKey string `json:"masterKey"`
}

type mutationResponse struct {
	Name      string `json:"name"`
	Persisted bool   `json:"persisted"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	writeJSON(w, http.StatusOK, map[string]any{"commands": emptyIfNil(s.engine.List(tenant))})
}

func (s *Server) registerCommand(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name and source are required")
		return
	}

	persisted, err := s.engine.Register(r.Context(), tenant, req.Name, req.Source, req.Description)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Name: req.Name, Persisted: persisted})
}

func (s *Server) renameCommand(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	name := chi.URLParam(r, "name")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "target name required")
		return
	}

	persisted, err := s.engine.Rename(r.Context(), tenant, name, req.To)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Name: req.To, Persisted: persisted})
}

func (s *Server) removeCommand(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	name := chi.URLParam(r, "name")

	persisted, err := s.engine.Remove(r.Context(), tenant, name)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Name: name, Persisted: persisted})
}

func (s *Server) invokeCommand(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	name := chi.URLParam(r, "name")

	var req invokeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
			return
		}
	}

	outcome, err := s.engine.Invoke(r.Context(), tenant, name, req.Args)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) describeCommand(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req describeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Request == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "request text required")
		return
	}

	candidate, persisted, err := s.engine.Describe(r.Context(), tenant, req.Request)
	if err != nil {
		if isValidationError(err) {
			writeCommandError(w, err)
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeGenerationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidate": candidate, "persisted": persisted})
}

func (s *Server) tenantCatalog(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	writeJSON(w, http.StatusOK, map[string]any{"commands": emptyIfNil(s.dispatcher.Catalog(tenant))})
}

func (s *Server) provisionTenant(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "the configured store does not support provisioning")
		return
	}

	tenant := chi.URLParam(r, "tenant")
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BinID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "binId required")
		return
	}

	if err := s.provisioner.ProvisionTenant(r.Context(), tenant, req.BinID, req.MasterKey); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeCommandError maps engine errors onto API status codes.
func writeCommandError(w http.ResponseWriter, err error) {
	var rejected *registry.PlatformRejectedError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadGateway, ErrCodePlatformRejected, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

func isValidationError(err error) bool {
	var denied *script.DisallowedConstructError
	var syntaxErr *script.SyntaxError
	return errors.Is(err, script.ErrTooLarge) ||
		errors.Is(err, script.ErrMissingEntryPoint) ||
		errors.As(err, &denied) ||
		errors.As(err, &syntaxErr)
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
