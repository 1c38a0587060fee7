package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/setup"
)

// invocationRequest is the optional body of setup/shutdown requests.
type invocationRequest struct {
	// ExcludeHighLevel skips the harmonic linearizer cryomodules.
	// Only meaningful for machine-level requests.
	ExcludeHighLevel bool `json:"exclude_high_level"`
}

// invocationResponse acknowledges an accepted invocation.
type invocationResponse struct {
	InvocationID string `json:"invocation_id"`
	NodeID       string `json:"node_id"`
	Direction    string `json:"direction"`
}

// handleHealth returns the service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"nodes":   s.machine.NodeCount(),
	})
}

// hierarchyNode is one node of the topology dump.
type hierarchyNode struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Level     string          `json:"level"`
	HighLevel bool            `json:"high_level,omitempty"`
	Children  []hierarchyNode `json:"children,omitempty"`
}

// handleHierarchy returns the full machine topology as a tree.
func (s *Server) handleHierarchy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hierarchyTree(s.machine.Root()))
}

func (s *Server) hierarchyTree(n *linac.Node) hierarchyNode {
	out := hierarchyNode{
		ID:        n.ID,
		Name:      n.Name,
		Level:     string(n.Level),
		HighLevel: n.HighLevel,
	}
	for _, child := range s.machine.Children(n) {
		out.Children = append(out.Children, s.hierarchyTree(child))
	}
	return out
}

// handleSetup starts a setup invocation on the addressed node.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	s.startInvocation(w, r, setup.DirectionSetup)
}

// handleShutdown starts a shutdown invocation on the addressed node.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.startInvocation(w, r, setup.DirectionShutdown)
}

// startInvocation launches the invocation asynchronously and returns 202.
// Progress is observable through the status endpoint and the broker.
func (s *Server) startInvocation(w http.ResponseWriter, r *http.Request, direction setup.Direction) {
	key := nodeKey(r)

	var req invocationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	// Background context: the invocation outlives this request.
	invocationID, err := s.orchestrator.Start(context.Background(), key, direction, setup.Options{
		ExcludeHighLevel: req.ExcludeHighLevel,
	})
	switch {
	case errors.Is(err, linac.ErrNotFound):
		writeNotFound(w, err.Error())
		return
	case errors.Is(err, setup.ErrActiveInvocation):
		writeConflict(w, err.Error())
		return
	case err != nil:
		writeInternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, invocationResponse{
		InvocationID: invocationID,
		NodeID:       key,
		Direction:    string(direction),
	})
}

// handleAbort signals the invocation covering the addressed node.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	key := nodeKey(r)

	node, err := s.machine.Resolve(key)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	if !s.orchestrator.Abort(node.ID) {
		writeConflict(w, "no active invocation on "+node.ID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": node.ID,
		"aborted": true,
	})
}

// handleStatus returns the node's current setup state. Non-leaf states
// are derived from leaf descendants on demand.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := nodeKey(r)

	state, err := s.orchestrator.NodeState(key)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": key,
		"state":   string(state),
	})
}

// handleResults returns recent setup results for the addressed node.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeInternalError(w, "history store not configured")
		return
	}

	node, err := s.machine.Resolve(nodeKey(r))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}

	results, err := s.results.ListByNode(r.Context(), node.ID, queryLimit(r))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleQuenches returns recent quench events, for one cavity when a node
// key is present and machine-wide otherwise.
func (s *Server) handleQuenches(w http.ResponseWriter, r *http.Request) {
	if s.quenches == nil {
		writeInternalError(w, "history store not configured")
		return
	}

	key := nodeKey(r)
	if key == "" {
		events, err := s.quenches.ListRecent(r.Context(), queryLimit(r))
		if err != nil {
			writeInternalError(w, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	node, err := s.machine.Resolve(key)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	if !node.IsLeaf() {
		writeBadRequest(w, "quench history is per-cavity")
		return
	}

	events, err := s.quenches.ListByCavity(r.Context(), node.ID, queryLimit(r))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSimPVs lists every PV the simulated backend serves.
func (s *Server) handleSimPVs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Names())
}

// handleSimPVGet reads one PV from the simulated backend.
func (s *Server) handleSimPVGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	value, err := s.sim.Get(r.Context(), name)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"value": value,
	})
}

// handleSimForceQuench injects a quench into the simulated backend.
func (s *Server) handleSimForceQuench(w http.ResponseWriter, r *http.Request) {
	node, err := s.machine.Resolve(nodeKey(r))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	if !node.IsLeaf() {
		writeBadRequest(w, "quench injection targets a cavity")
		return
	}

	s.sim.ForceQuench(node.PVPrefix)
	writeJSON(w, http.StatusOK, map[string]any{
		"cavity_id": node.ID,
		"quenched":  true,
	})
}

// decodeOptionalBody decodes a JSON body if one is present. An empty body
// leaves v untouched.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryLimit parses the limit query parameter, 0 when absent.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
