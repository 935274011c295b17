// Package api exposes the host control interface over HTTP: ARM, ABORT,
// DRAIN and STATUS. It is the only way a host changes engine state.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"PCIeSpectra/internal/engine/manager"
	"PCIeSpectra/internal/engine/ring"
	"PCIeSpectra/internal/engine/session"
	"PCIeSpectra/internal/model"
)

// Handler holds the dependencies for the control endpoints.
type Handler struct {
	mgr *manager.Manager
}

// NewRouter builds the control API router around the given pipeline.
func NewRouter(mgr *manager.Manager) *mux.Router {
	h := &Handler{mgr: mgr}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/session/arm", h.armHandler).Methods("POST")
	r.HandleFunc("/api/v1/session/abort", h.abortHandler).Methods("POST")
	r.HandleFunc("/api/v1/session/drain", h.drainHandler).Methods("POST")
	r.HandleFunc("/api/v1/session/status", h.statusHandler).Methods("GET")
	return r
}

// RuleRequest is the JSON form of a filter rule.
type RuleRequest struct {
	Name        string   `json:"name"`
	Types       []string `json:"types,omitempty"`
	AddrLo      uint64   `json:"addr_lo,omitempty"`
	AddrHi      uint64   `json:"addr_hi,omitempty"`
	RequesterID *uint16  `json:"requester_id,omitempty"`
	Tag         *uint8   `json:"tag,omitempty"`
	Action      string   `json:"action"`
}

// ArmRequest is the body of the ARM command. Omitted fields fall back to the
// engine's configured defaults.
type ArmRequest struct {
	Rules         []RuleRequest `json:"rules"`
	DefaultAction string        `json:"default_action,omitempty"`
	BufferSize    int           `json:"buffer_size,omitempty"`
	Policy        string        `json:"policy,omitempty"`
	PreTrigger    int           `json:"pre_trigger,omitempty"`
	PostTrigger   int           `json:"post_trigger,omitempty"`
	Mode          string        `json:"mode,omitempty"` // "batch" (default) or "streaming"
}

// CommandResponse is the uniform control reply envelope.
type CommandResponse struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

func parseTLPType(s string) (model.TLPType, error) {
	switch s {
	case "memory", "mem":
		return model.TLPMemory, nil
	case "io":
		return model.TLPIO, nil
	case "config", "cfg":
		return model.TLPConfig, nil
	case "completion", "cpl":
		return model.TLPCompletion, nil
	case "message", "msg":
		return model.TLPMessage, nil
	default:
		return 0, fmt.Errorf("unknown TLP type %q", s)
	}
}

func parseAction(s string) (model.Action, error) {
	switch s {
	case "capture":
		return model.ActionCapture, nil
	case "ignore":
		return model.ActionIgnore, nil
	case "trigger":
		return model.ActionTrigger, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

func (h *Handler) buildSessionConfig(req *ArmRequest) (session.Config, error) {
	cfg := h.mgr.DefaultSessionConfig()

	if req.BufferSize > 0 {
		cfg.BufferSize = req.BufferSize
	}
	switch req.Policy {
	case "":
	case "overwrite":
		cfg.Policy = ring.Overwrite
	case "stop-on-full":
		cfg.Policy = ring.StopOnFull
	default:
		return cfg, fmt.Errorf("unknown overflow policy %q", req.Policy)
	}
	if req.DefaultAction != "" {
		action, err := parseAction(req.DefaultAction)
		if err != nil {
			return cfg, err
		}
		cfg.DefaultAction = action
	}
	cfg.PreTrigger = req.PreTrigger
	cfg.PostTrigger = req.PostTrigger
	switch req.Mode {
	case "", "batch":
	case "streaming":
		cfg.Streaming = true
	default:
		return cfg, fmt.Errorf("unknown mode %q", req.Mode)
	}

	for i, rr := range req.Rules {
		rule := model.FilterRule{
			Name:        rr.Name,
			AddrLo:      rr.AddrLo,
			AddrHi:      rr.AddrHi,
			RequesterID: rr.RequesterID,
			Tag:         rr.Tag,
		}
		for _, ts := range rr.Types {
			t, err := parseTLPType(ts)
			if err != nil {
				return cfg, fmt.Errorf("rule %d: %w", i, err)
			}
			rule.Types = append(rule.Types, t)
		}
		action, err := parseAction(rr.Action)
		if err != nil {
			return cfg, fmt.Errorf("rule %d: %w", i, err)
		}
		rule.Action = action
		cfg.Rules = append(cfg.Rules, rule)
	}
	return cfg, nil
}

func writeResult(w http.ResponseWriter, err error) {
	resp := CommandResponse{Code: "OK"}
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, session.ErrConfig):
		resp.Code, status = "ConfigError", http.StatusBadRequest
	case errors.Is(err, session.ErrSessionBusy):
		resp.Code, status = "SessionBusyError", http.StatusConflict
	case errors.Is(err, session.ErrLinkDown):
		resp.Code, status = "LinkDownError", http.StatusServiceUnavailable
	default:
		resp.Code, status = "ConfigError", http.StatusBadRequest
	}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) armHandler(w http.ResponseWriter, r *http.Request) {
	var req ArmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, fmt.Errorf("%w: failed to decode request: %v", session.ErrConfig, err))
		return
	}
	cfg, err := h.buildSessionConfig(&req)
	if err != nil {
		writeResult(w, fmt.Errorf("%w: %v", session.ErrConfig, err))
		return
	}
	writeResult(w, h.mgr.Arm(cfg))
}

func (h *Handler) abortHandler(w http.ResponseWriter, r *http.Request) {
	err := h.mgr.Abort()
	if err != nil {
		log.Printf("Abort rejected: %v", err)
	}
	writeResult(w, err)
}

func (h *Handler) drainHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.mgr.Drain())
}

// StatusResponse is the JSON form of a session snapshot.
type StatusResponse struct {
	SessionID  string             `json:"session_id,omitempty"`
	State      string             `json:"state"`
	Rules      int                `json:"rules"`
	Capacity   int                `json:"capacity"`
	Occupancy  int                `json:"occupancy"`
	TriggerSeq uint64             `json:"trigger_seq,omitempty"`
	LastAcked  uint64             `json:"last_acked"`
	LinkUp     bool               `json:"link_up"`
	Lanes      uint8              `json:"lanes"`
	Speed      uint8              `json:"speed"`
	Stats      model.SessionStats `json:"stats"`
}

func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := h.mgr.Status()
	resp := StatusResponse{
		SessionID:  st.SessionID,
		State:      st.State.String(),
		Rules:      st.Rules,
		Capacity:   st.Capacity,
		Occupancy:  st.Occupancy,
		TriggerSeq: st.TriggerSeq,
		LastAcked:  st.LastAcked,
		LinkUp:     st.Link.Up,
		Lanes:      st.Link.Lanes,
		Speed:      st.Link.Speed,
		Stats:      st.Stats,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
