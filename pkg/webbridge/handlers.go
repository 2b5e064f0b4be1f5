package webbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/germanamz/illias/pkg/catalog"
	"github.com/germanamz/illias/pkg/chats/message"
	"github.com/germanamz/illias/pkg/cost"
	"github.com/germanamz/illias/pkg/engine"
	"github.com/germanamz/illias/pkg/modeladapter"
	"github.com/germanamz/illias/pkg/validate"
)

// maxBodyBytes bounds request bodies; the largest legitimate one is a message.
const maxBodyBytes = 1 << 20

// --- request types ---

type sendRequest struct {
	Text string `json:"text"`
}

type selectRequest struct {
	ID string `json:"id" validate:"required"`
}

type credentialRequest struct {
	Value string `json:"value"`
}

type paramsRequest struct {
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
}

// --- response types ---

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type modelView struct {
	ID               string  `json:"id"`
	Label            string  `json:"label"`
	Description      string  `json:"description,omitempty"`
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

type providerView struct {
	ID             string      `json:"id"`
	Label          string      `json:"label"`
	Schema         string      `json:"schema"`
	KeyHint        string      `json:"key_hint,omitempty"`
	KeyPlaceholder string      `json:"key_placeholder,omitempty"`
	Models         []modelView `json:"models"`
}

type sessionView struct {
	engine.Snapshot
	CostDisplay string `json:"cost_display"`
}

type sendResponse struct {
	Reply       message.Message `json:"reply"`
	Stats       engine.Stats    `json:"stats"`
	CostDisplay string          `json:"cost_display"`
}

func newProviderView(p catalog.ProviderDescriptor) providerView {
	models := make([]modelView, len(p.Models))
	for i, m := range p.Models {
		models[i] = modelView{
			ID:               m.ID,
			Label:            m.Label,
			Description:      m.Description,
			InputPerMillion:  m.Rates.Input * 1_000_000,
			OutputPerMillion: m.Rates.Output * 1_000_000,
		}
	}

	return providerView{
		ID:             p.ID,
		Label:          p.Label,
		Schema:         string(p.Schema),
		KeyHint:        p.KeyHint,
		KeyPlaceholder: p.KeyPlaceholder,
		Models:         models,
	}
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	providers := s.engine.Catalog().Providers()

	out := make([]providerView, len(providers))
	for i, p := range providers {
		out[i] = newProviderView(p)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}

	// A request runs to completion even if the browser goes away, so the
	// reply and its cost still land in the session.
	reply, err := s.session.Send(context.WithoutCancel(r.Context()), req.Text)
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	stats := s.session.Stats()
	s.writeJSON(w, http.StatusOK, sendResponse{
		Reply:       reply,
		Stats:       stats,
		CostDisplay: cost.Format(stats.TotalCost, s.decimals),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Clear(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.session.SetProvider(req.ID); err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.session.SetModel(req.ID); err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.session.SetCredential(req.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.session.SetParams(engine.Params(req))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.view())
}

// --- helpers ---

func (s *Server) view() sessionView {
	snap := s.session.Snapshot()
	return sessionView{
		Snapshot:    snap,
		CostDisplay: cost.Format(snap.Stats.TotalCost, s.decimals),
	}
}

// decode reads a JSON body into dst and validates it. On failure it writes a
// 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}

	return true
}

func (s *Server) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrBusy):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrMissingCredential):
		s.writeError(w, http.StatusPreconditionRequired, err)
	default:
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: modeladapter.ErrorMessage(err)})
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}

	var verr *validate.Error
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", "error", err)
	}
}
