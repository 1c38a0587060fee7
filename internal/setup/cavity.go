package setup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
)

// runCavity drives a single cavity through the requested sequence and
// returns its terminal state. ErrAborted marks cooperative cancellation;
// any other error means the cavity faulted.
func (o *Orchestrator) runCavity(ctx context.Context, cav *linac.Node, inv *invocation) (State, error) {
	switch inv.dir {
	case DirectionShutdown:
		if o.LeafState(cav.ID) == StateIdle {
			// Already off. No-op success, no PV writes.
			return StateIdle, nil
		}
		return o.shutdownCavity(ctx, cav, inv)
	case DirectionSetup:
		if o.LeafState(cav.ID) == StateRunning {
			return StateRunning, nil
		}
		return o.setupCavity(ctx, cav, inv)
	}
	return StateFaulted, fmt.Errorf("%w: direction %q", ErrInvalidTransition, inv.dir)
}

// setupCavity runs the full turn-on sequence: SSA on, interlock reset,
// ramp to the amplitude setpoint, probe calibration, then SELAP.
func (o *Orchestrator) setupCavity(ctx context.Context, cav *linac.Node, inv *invocation) (State, error) {
	token := inv.token

	if aborted(ctx, token) {
		return o.finishAborted(cav, token)
	}
	o.setLeafState(cav.ID, StateRamping)

	ramp := func() error {
		if err := o.put(ctx, cav, linac.PVRFControl, linac.RFOff); err != nil {
			return err
		}
		if err := o.put(ctx, cav, linac.PVSSAOn, 1); err != nil {
			return err
		}
		if err := o.await(ctx, token, cav, linac.PVSSAStatus, equals(linac.SSAOn), false); err != nil {
			return err
		}
		if err := o.put(ctx, cav, linac.PVInterlockReset, 1); err != nil {
			return err
		}
		if err := o.await(ctx, token, cav, linac.PVQuenchLatch, equals(linac.QuenchClear), false); err != nil {
			return err
		}
		if err := o.put(ctx, cav, linac.PVRFModeControl, linac.ModeSELA); err != nil {
			return err
		}
		if err := o.put(ctx, cav, linac.PVRFControl, linac.RFOn); err != nil {
			return err
		}
		if err := o.await(ctx, token, cav, linac.PVRFState, equals(linac.RFOn), true); err != nil {
			return err
		}
		return o.awaitAmplitude(ctx, token, cav)
	}
	if err := o.step(ctx, token, ramp); err != nil {
		return o.settleCavity(cav, token, err)
	}

	if aborted(ctx, token) {
		return o.finishAborted(cav, token)
	}
	o.setLeafState(cav.ID, StateCharacterizing)

	characterize := func() error {
		if err := o.put(ctx, cav, linac.PVCharStart, 1); err != nil {
			return err
		}
		if err := o.awaitCharacterization(ctx, token, cav); err != nil {
			return err
		}
		return o.put(ctx, cav, linac.PVRFModeControl, linac.ModeSELAP)
	}
	if err := o.step(ctx, token, characterize); err != nil {
		return o.settleCavity(cav, token, err)
	}

	if aborted(ctx, token) {
		return o.finishAborted(cav, token)
	}
	o.setLeafState(cav.ID, StateRunning)
	return StateRunning, nil
}

// shutdownCavity turns RF off, then powers the SSA down.
func (o *Orchestrator) shutdownCavity(ctx context.Context, cav *linac.Node, inv *invocation) (State, error) {
	token := inv.token

	if aborted(ctx, token) {
		return o.finishAborted(cav, token)
	}
	o.setLeafState(cav.ID, StateShuttingDown)

	off := func() error {
		if err := o.put(ctx, cav, linac.PVRFControl, linac.RFOff); err != nil {
			return err
		}
		if err := o.await(ctx, token, cav, linac.PVRFState, equals(linac.RFOff), false); err != nil {
			return err
		}
		if err := o.put(ctx, cav, linac.PVSSAOff, 1); err != nil {
			return err
		}
		return o.await(ctx, token, cav, linac.PVSSAStatus, equals(linac.SSAOff), false)
	}
	if err := o.step(ctx, token, off); err != nil {
		return o.settleCavity(cav, token, err)
	}

	o.setLeafState(cav.ID, StateIdle)
	return StateIdle, nil
}

// settleCavity maps a sequence error to the cavity's terminal state.
func (o *Orchestrator) settleCavity(cav *linac.Node, token *Token, err error) (State, error) {
	if errors.Is(err, ErrAborted) {
		return o.finishAborted(cav, token)
	}
	o.setLeafState(cav.ID, StateFaulted)
	return StateFaulted, err
}

// finishAborted runs the abort path: ABORTING, best-effort RF off, then
// ABORTED. The RF-off write is fire-and-forget; an unreachable cavity
// still ends ABORTED.
func (o *Orchestrator) finishAborted(cav *linac.Node, token *Token) (State, error) {
	o.setLeafState(cav.ID, StateAborting)

	offCtx, cancel := context.WithTimeout(context.Background(), o.cfg.TransitionTimeout())
	defer cancel()
	if err := o.client.Put(offCtx, cav.PV(linac.PVRFControl), linac.RFOff); err != nil {
		o.logger.Warn("abort RF-off write failed", "cavity", cav.ID, "error", err)
	}

	o.setLeafState(cav.ID, StateAborted)
	return StateAborted, ErrAborted
}

// put writes one cavity PV.
func (o *Orchestrator) put(ctx context.Context, cav *linac.Node, binding string, value float64) error {
	name := cav.PV(binding)
	if err := o.client.Put(ctx, name, value); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// step runs one sequence segment, retrying connection faults with a
// doubling backoff up to MaxRetries. Quench and abort are never retried,
// and neither is anything else.
func (o *Orchestrator) step(ctx context.Context, token *Token, op func() error) error {
	backoff := o.cfg.RetryBackoff()
	for attempt := 0; ; attempt++ {
		if aborted(ctx, token) {
			return ErrAborted
		}

		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, pv.ErrConnection) || attempt >= o.cfg.MaxRetries {
			return err
		}

		o.logger.Warn("retrying after connection fault",
			"attempt", attempt+1, "backoff_ms", backoff.Milliseconds(), "error", err)

		select {
		case <-token.Done():
			return ErrAborted
		case <-ctx.Done():
			return ErrAborted
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// await polls one cavity PV until ok(value) holds, the transition times
// out, or the invocation is cancelled. Cancellation wins over timeout if
// both are ready. With watchQuench set, a latched quench interrupts the
// wait immediately.
func (o *Orchestrator) await(ctx context.Context, token *Token, cav *linac.Node, binding string, ok func(float64) bool, watchQuench bool) error {
	name := cav.PV(binding)

	deadline := time.NewTimer(o.cfg.TransitionTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if aborted(ctx, token) {
			return ErrAborted
		}

		if watchQuench {
			latch, err := o.client.Get(ctx, cav.PV(linac.PVQuenchLatch))
			if err != nil {
				return fmt.Errorf("get %s: %w", cav.PV(linac.PVQuenchLatch), err)
			}
			if latch >= linac.QuenchLatched {
				return &QuenchError{
					CavityID:      cav.ID,
					MeasuredValue: latch,
					Threshold:     linac.QuenchLatched,
					At:            time.Now().UTC(),
				}
			}
		}

		value, err := o.client.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("get %s: %w", name, err)
		}
		if ok(value) {
			return nil
		}

		select {
		case <-token.Done():
			return ErrAborted
		case <-ctx.Done():
			return ErrAborted
		case <-deadline.C:
			// select picks randomly when both are ready; cancellation
			// must win over the timeout.
			if aborted(ctx, token) {
				return ErrAborted
			}
			return fmt.Errorf("%w: timeout waiting for %s", pv.ErrConnection, name)
		case <-ticker.C:
		}
	}
}

// awaitAmplitude waits for the measured amplitude to reach the setpoint.
// The setpoint is re-read each poll so an operator trim mid-ramp still
// converges.
func (o *Orchestrator) awaitAmplitude(ctx context.Context, token *Token, cav *linac.Node) error {
	desired := math.NaN()
	check := func(act float64) bool {
		return !math.IsNaN(desired) && math.Abs(act-desired) <= amplitudeTolerance
	}

	deadline := time.NewTimer(o.cfg.TransitionTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if aborted(ctx, token) {
			return ErrAborted
		}

		latch, err := o.client.Get(ctx, cav.PV(linac.PVQuenchLatch))
		if err != nil {
			return fmt.Errorf("get %s: %w", cav.PV(linac.PVQuenchLatch), err)
		}
		if latch >= linac.QuenchLatched {
			return &QuenchError{
				CavityID:      cav.ID,
				MeasuredValue: latch,
				Threshold:     linac.QuenchLatched,
				At:            time.Now().UTC(),
			}
		}

		if desired, err = o.client.Get(ctx, cav.PV(linac.PVAmplitudeDes)); err != nil {
			return fmt.Errorf("get %s: %w", cav.PV(linac.PVAmplitudeDes), err)
		}
		act, err := o.client.Get(ctx, cav.PV(linac.PVAmplitudeAct))
		if err != nil {
			return fmt.Errorf("get %s: %w", cav.PV(linac.PVAmplitudeAct), err)
		}
		if check(act) {
			return nil
		}

		select {
		case <-token.Done():
			return ErrAborted
		case <-ctx.Done():
			return ErrAborted
		case <-deadline.C:
			if aborted(ctx, token) {
				return ErrAborted
			}
			return fmt.Errorf("%w: timeout ramping %s to %.2f MV", pv.ErrConnection, cav.ID, desired)
		case <-ticker.C:
		}
	}
}

// awaitCharacterization waits for probe calibration to complete. A status
// of CharError faults the cavity without retry.
func (o *Orchestrator) awaitCharacterization(ctx context.Context, token *Token, cav *linac.Node) error {
	name := cav.PV(linac.PVCharStatus)

	deadline := time.NewTimer(o.cfg.TransitionTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if aborted(ctx, token) {
			return ErrAborted
		}

		latch, err := o.client.Get(ctx, cav.PV(linac.PVQuenchLatch))
		if err != nil {
			return fmt.Errorf("get %s: %w", cav.PV(linac.PVQuenchLatch), err)
		}
		if latch >= linac.QuenchLatched {
			return &QuenchError{
				CavityID:      cav.ID,
				MeasuredValue: latch,
				Threshold:     linac.QuenchLatched,
				At:            time.Now().UTC(),
			}
		}

		status, err := o.client.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("get %s: %w", name, err)
		}
		switch status {
		case linac.CharComplete:
			return nil
		case linac.CharError:
			return fmt.Errorf("probe calibration failed on %s", cav.ID)
		}

		select {
		case <-token.Done():
			return ErrAborted
		case <-ctx.Done():
			return ErrAborted
		case <-deadline.C:
			if aborted(ctx, token) {
				return ErrAborted
			}
			return fmt.Errorf("%w: timeout characterizing %s", pv.ErrConnection, cav.ID)
		case <-ticker.C:
		}
	}
}

// aborted reports whether the invocation should stop: token signalled or
// caller context cancelled.
func aborted(ctx context.Context, token *Token) bool {
	return token.Signalled() || ctx.Err() != nil
}

// equals builds a readback predicate for enum-valued PVs.
func equals(want float64) func(float64) bool {
	return func(got float64) bool { return got == want }
}
