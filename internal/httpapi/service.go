package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mistakeknot/agentmail/internal/auth"
	"github.com/mistakeknot/agentmail/internal/core"
	"github.com/mistakeknot/agentmail/internal/tool"
)

const (
	maxBodyBytes   = 8 << 20
	defaultTimeout = 30 * time.Second
)

type Service struct {
	reg *tool.Registry
}

func NewService(reg *tool.Registry) *Service {
	return &Service{reg: reg}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	info, _ := auth.FromContext(r.Context())
	result, err := s.dispatch(w, r, "health_check", nil, info)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleToolByPath(w http.ResponseWriter, r *http.Request) {
	s.serveTool(w, r, chi.URLParam(r, "tool"))
}

func (s *Service) toolHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveTool(w, r, name)
	}
}

func (s *Service) serveTool(w http.ResponseWriter, r *http.Request, name string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, tool.Envelope(core.Wrap(core.KindInvalidArgument, err, "read body")))
		return
	}
	info, _ := auth.FromContext(r.Context())
	result, dispatchErr := s.dispatch(w, r, name, body, info)
	if dispatchErr != nil {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) dispatch(w http.ResponseWriter, r *http.Request, name string, body []byte, info auth.Info) (any, error) {
	// every tool call carries a deadline; on expiry the unit-of-work
	// aborts and the caller sees Timeout
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	result, err := s.reg.Dispatch(ctx, name, info, body)
	if err != nil {
		writeError(w, tool.Envelope(err))
		return nil, err
	}
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, env *tool.ErrorEnvelope) {
	writeJSON(w, env.HTTPStatus(), env)
}
