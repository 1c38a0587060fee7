package setup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
)

// amplitudeTolerance is how close AACT must be to ADES (MV) before a ramp
// is considered complete.
const amplitudeTolerance = 0.5

// Logger is the minimal logging interface the orchestrator needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options modifies one invocation.
type Options struct {
	// ExcludeHighLevel skips the high-level (harmonic linearizer)
	// cryomodules. Only meaningful for machine-level invocations.
	ExcludeHighLevel bool
}

// Orchestrator drives hierarchy nodes through the setup or shutdown
// sequence: one concurrent task per node, cancellation through shared
// abort tokens, bounded retry on connection faults and immediate
// escalation of quench faults.
//
// Thread Safety: Run is safe for concurrent use; overlapping invocations
// on the same subtree are refused with ErrActiveInvocation.
type Orchestrator struct {
	machine  *linac.Machine
	client   pv.Client
	coord    *Coordinator
	recorder Recorder
	cfg      config.SetupConfig
	logger   Logger

	mu         sync.RWMutex
	leafStates map[string]State

	onState func(nodeID string, state State)
}

// New creates an orchestrator. recorder and logger may be nil.
func New(machine *linac.Machine, client pv.Client, coord *Coordinator, recorder Recorder, cfg config.SetupConfig, logger Logger) *Orchestrator {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Orchestrator{
		machine:    machine,
		client:     client,
		coord:      coord,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		leafStates: make(map[string]State),
	}
}

// SetStateListener registers a callback invoked on every leaf state
// transition. Used to feed telemetry and live displays. Safe to call
// while invocations are running.
func (o *Orchestrator) SetStateListener(fn func(nodeID string, state State)) {
	o.mu.Lock()
	o.onState = fn
	o.mu.Unlock()
}

// LeafState returns the stored state of a cavity (IDLE if never touched).
func (o *Orchestrator) LeafState(id string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.leafStates[id]; ok {
		return s
	}
	return StateIdle
}

// NodeState returns the displayed state of any node. Non-leaf states are
// derived from leaf descendants, never stored.
func (o *Orchestrator) NodeState(id string) (State, error) {
	node, err := o.machine.Resolve(id)
	if err != nil {
		return "", err
	}
	if node.IsLeaf() {
		return o.LeafState(node.ID), nil
	}

	var states []State
	for leaf := range o.machine.Leaves(node) {
		states = append(states, o.LeafState(leaf.ID))
	}
	return aggregate(states), nil
}

// setLeafState stores a cavity state and notifies the listener.
func (o *Orchestrator) setLeafState(id string, state State) {
	o.mu.Lock()
	o.leafStates[id] = state
	fn := o.onState
	o.mu.Unlock()

	if fn != nil {
		fn(id, state)
	}
}

// Abort signals the token of the invocation currently covering nodeID.
// Returns false if no invocation is active there.
func (o *Orchestrator) Abort(nodeID string) bool {
	return o.coord.SignalNode(nodeID)
}

// Run executes one invocation at the named node, synchronously, and
// returns the node's own result record.
//
// Errors are returned only for preconditions: linac.ErrNotFound for an
// unknown key and ErrActiveInvocation when the subtree is busy. Faults
// and aborts during execution are reported through the result's Outcome,
// because they are per-node terminal states, not call failures.
func (o *Orchestrator) Run(ctx context.Context, nodeID string, direction Direction, opts Options) (Result, error) {
	node, inv, release, err := o.prepare(nodeID, direction, opts)
	if err != nil {
		return Result{}, err
	}
	defer release()

	return o.execute(ctx, node, inv), nil
}

// Start begins an invocation asynchronously and returns its invocation
// id. Precondition errors (unknown node, busy subtree) are returned
// immediately; execution continues in the background and settles through
// the recorder and state listener.
func (o *Orchestrator) Start(ctx context.Context, nodeID string, direction Direction, opts Options) (string, error) {
	node, inv, release, err := o.prepare(nodeID, direction, opts)
	if err != nil {
		return "", err
	}

	go func() {
		defer release()
		o.execute(ctx, node, inv)
	}()

	return inv.id, nil
}

// prepare resolves the target, binds the subtree to a fresh token and
// builds the invocation. The returned release func must be called once
// execution finishes.
func (o *Orchestrator) prepare(nodeID string, direction Direction, opts Options) (*linac.Node, *invocation, func(), error) {
	node, err := o.machine.Resolve(nodeID)
	if err != nil {
		return nil, nil, nil, err
	}
	if direction != DirectionSetup && direction != DirectionShutdown {
		return nil, nil, nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidTransition, direction)
	}

	excluded := o.excludedSubtrees(node, opts)
	ids := o.subtreeIDs(node, excluded)

	token := NewToken()
	if err := o.coord.Bind(token, ids); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", node.ID, err)
	}

	inv := &invocation{
		id:       uuid.New().String(),
		dir:      direction,
		token:    token,
		excluded: excluded,
	}
	return node, inv, func() { o.coord.Release(ids) }, nil
}

// execute runs the invocation tree to completion.
func (o *Orchestrator) execute(ctx context.Context, node *linac.Node, inv *invocation) Result {
	o.logger.Info("invocation started",
		"invocation_id", inv.id,
		"node", node.ID,
		"direction", string(inv.dir),
	)

	result := o.runNode(ctx, node, inv)

	o.logger.Info("invocation complete",
		"invocation_id", inv.id,
		"node", node.ID,
		"outcome", string(result.Outcome),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

// invocation carries the per-invocation context shared by all tasks.
type invocation struct {
	id       string
	dir      Direction
	token    *Token
	excluded map[string]bool
}

// excludedSubtrees returns the set of cryomodule ids excluded from this
// invocation.
func (o *Orchestrator) excludedSubtrees(node *linac.Node, opts Options) map[string]bool {
	if !opts.ExcludeHighLevel {
		return nil
	}
	excluded := make(map[string]bool)
	for n := range o.machine.Descendants(node) {
		if n.Level == linac.LevelCryomodule && n.HighLevel {
			excluded[n.ID] = true
		}
	}
	return excluded
}

// subtreeIDs collects every node id the invocation will touch, skipping
// excluded subtrees.
func (o *Orchestrator) subtreeIDs(node *linac.Node, excluded map[string]bool) []string {
	var ids []string
	for n := range o.machine.Descendants(node) {
		if excluded[n.ID] || (n.Parent != "" && excluded[n.Parent]) {
			continue
		}
		ids = append(ids, n.ID)
	}
	return ids
}

// runNode drives one node: leaves run the local PV sequence, interior
// nodes fan out one task per child and aggregate the outcomes.
func (o *Orchestrator) runNode(ctx context.Context, node *linac.Node, inv *invocation) Result {
	started := time.Now()

	var outcome State
	var detail string

	if node.IsLeaf() {
		var err error
		outcome, err = o.runCavity(ctx, node, inv)
		if err != nil && !errors.Is(err, ErrAborted) {
			detail = err.Error()
		}
		switch {
		case errors.Is(err, ErrAborted):
			o.logger.Info("cavity aborted", "invocation_id", inv.id, "cavity", node.ID)
		case err != nil:
			o.logger.Error("cavity faulted", "invocation_id", inv.id, "cavity", node.ID, "error", err)
		}
	} else {
		outcome, detail = o.runChildren(ctx, node, inv)
	}

	result := Result{
		ID:           newResultID(),
		InvocationID: inv.id,
		NodeID:       node.ID,
		Direction:    inv.dir,
		Outcome:      outcome,
		Detail:       detail,
		Duration:     time.Since(started),
		Timestamp:    time.Now().UTC(),
	}
	o.recorder.Record(ctx, result)
	return result
}

// runChildren executes every non-excluded child concurrently and derives
// the parent's terminal outcome.
func (o *Orchestrator) runChildren(ctx context.Context, node *linac.Node, inv *invocation) (State, string) {
	children := o.machine.Children(node)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for _, child := range children {
		if inv.excluded[child.ID] {
			continue
		}
		wg.Add(1)
		go func(child *linac.Node) {
			defer wg.Done()
			r := o.runNode(ctx, child, inv)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(child)
	}
	wg.Wait()

	return o.aggregateOutcome(inv, results)
}

// aggregateOutcome folds child results into the parent outcome.
//
// Precedence is FAULTED > ABORTED > success, except that faults recorded
// after the abort token was signalled report as ABORTED: the abort is the
// operator-visible cause, the late fault a side effect of tearing down.
func (o *Orchestrator) aggregateOutcome(inv *invocation, results []Result) (State, string) {
	signalAt, signalled := inv.token.SignalledAt()

	var faultDetail string
	anyFault := false
	anyAborted := false

	for _, r := range results {
		switch r.Outcome {
		case StateFaulted:
			if signalled && r.Timestamp.After(signalAt) {
				anyAborted = true
			} else {
				anyFault = true
				if faultDetail == "" {
					faultDetail = fmt.Sprintf("%s: %s", r.NodeID, r.Detail)
				}
			}
		case StateAborted:
			anyAborted = true
		}
	}

	switch {
	case anyFault:
		return StateFaulted, faultDetail
	case anyAborted:
		return StateAborted, ""
	case inv.dir == DirectionShutdown:
		return StateIdle, ""
	default:
		return StateRunning, ""
	}
}
