package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/metrics"
	"github.com/roach88/pwasync/internal/netstate"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// NetworkView is the JSON form of a network state.
type NetworkView struct {
	netstate.Flags
	Online           bool `json:"online"`
	OfflineVirtually bool `json:"offlineVirtually"`
}

func networkView(s netstate.State) NetworkView {
	return NetworkView{
		Flags:            s.Serialize(),
		Online:           s.IsOnline(),
		OfflineVirtually: s.IsOfflineVirtually(),
	}
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	DeviceID string           `json:"deviceId"`
	Network  NetworkView      `json:"network"`
	Counts   action.Counts    `json:"counts"`
	Metrics  metrics.Snapshot `json:"metrics"`
	Version  string           `json:"version"`
}

// EnqueueRequest is the body of POST /actions.
type EnqueueRequest struct {
	Topic   string         `json:"topic"`
	Payload action.Payload `json:"payload"`
}

// IDsRequest carries a selection of action ids.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// NetworkRequest is the body of PUT /network. Omitted fields are unchanged.
type NetworkRequest struct {
	ForcedOffline *bool `json:"forcedOffline,omitempty"`
	AutoOffline   *bool `json:"autoOffline,omitempty"`
	SlowNetwork   *bool `json:"slowNetwork,omitempty"`
}

// ConnectivityRequest is the body of POST /network/connectivity.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// HistoryEntryView is one row of GET /network/history.
type HistoryEntryView struct {
	netstate.Flags
	Online     bool      `json:"online"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.Counts(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		DeviceID: s.engine.DeviceID(),
		Network:  networkView(s.engine.State()),
		Counts:   counts,
		Metrics:  s.engine.Metrics(),
		Version:  action.EngineVersion,
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := action.Filter{Topic: q.Get("topic")}
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			st, err := action.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	items, err := s.engine.List(r.Context(), f)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	id, err := s.engine.Enqueue(r.Context(), req.Topic, req.Payload)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDeleteActions(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "ids must not be empty")
		return
	}
	s.deleteIDs(w, r, req.IDs)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	s.deleteIDs(w, r, []string{mux.Vars(r)["id"]})
}

func (s *Server) deleteIDs(w http.ResponseWriter, r *http.Request, ids []string) {
	n, err := s.engine.DeleteSelected(r.Context(), ids)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var (
		report engine.SyncReport
		err    error
	)
	if len(req.IDs) > 0 {
		report, err = s.engine.SyncSelected(r.Context(), req.IDs)
	} else {
		report, err = s.engine.SyncNow(r.Context())
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ResyncAll(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	doc, err := s.engine.ExportSelected(r.Context(), req.IDs)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pwasync-export-%s.json"`, doc.DeviceID))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetNetwork(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, networkView(s.engine.State()))
}

func (s *Server) handleSetNetwork(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	p := netstate.Partial{
		ForcedOffline: req.ForcedOffline,
		AutoOffline:   req.AutoOffline,
		SlowNetwork:   req.SlowNetwork,
	}
	if p.Empty() {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "no network field given")
		return
	}
	if _, err := s.engine.SetNetwork(r.Context(), p); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, networkView(s.engine.State()))
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	s.engine.ReportConnectivity(r.Context(), req.Online)
	writeJSON(w, http.StatusOK, networkView(s.engine.State()))
}

func (s *Server) handleCheckNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, networkView(s.engine.CheckNetwork(r.Context())))
}

func (s *Server) handleNetworkHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("since: %v", err))
			return
		}
		since = t
	}
	entries, err := s.engine.NetworkHistory(r.Context(), since)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]HistoryEntryView, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryView{Flags: e.State.Serialize(), Online: e.State.IsOnline(), RecordedAt: e.RecordedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error *engine.Error `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: &engine.Error{Code: engine.ErrorCode(code), Message: message}})
}

// writeEngineError maps the engine taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "CANCELLED", err.Error())
			return
		}
		// Validation failures are plain errors.
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch {
	case engine.IsStorageUnavailable(err):
		status = http.StatusServiceUnavailable
		s.log.Warn("storage unavailable", map[string]any{"error": err})
	case engine.IsPolicyConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: ee})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
