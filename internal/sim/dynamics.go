package sim

import (
	"context"
	"math/rand"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/linac"
)

// Run drives the background physics loop until ctx is cancelled.
//
// Each tick applies simple cavity dynamics: actuation readbacks follow
// their control PVs, AACT walks toward ADES while RF is on, detune drifts,
// characterization completes one tick after it is started, and a latched
// quench trips RF off.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick advances every cavity by one step.
func (s *Server) tick() {
	for _, prefix := range s.cavities {
		s.tickCavity(prefix)
	}
}

//nolint:gocyclo // one branch per simulated subsystem
func (s *Server) tickCavity(prefix string) {
	rd := func(binding string) float64 {
		v, _ := s.get(prefix + binding)
		return v
	}
	wr := func(binding string, v float64) {
		s.set(prefix+binding, v)
	}

	// SSA power commands are momentary: acting on them clears the request.
	if rd(linac.PVSSAOn) == 1 {
		wr(linac.PVSSAStatus, linac.SSAOn)
		wr(linac.PVSSAOn, 0)
	}
	if rd(linac.PVSSAOff) == 1 {
		wr(linac.PVSSAStatus, linac.SSAOff)
		wr(linac.PVSSAOff, 0)
	}

	// Interlock reset clears a latched quench.
	if rd(linac.PVInterlockReset) == 1 {
		wr(linac.PVQuenchLatch, linac.QuenchClear)
		wr(linac.PVInterlockReset, 0)
	}

	quenched := rd(linac.PVQuenchLatch) == linac.QuenchLatched

	// Actuation readbacks follow their control PVs. A latched quench
	// inhibits RF regardless of the request.
	rfOn := rd(linac.PVRFControl) == linac.RFOn && rd(linac.PVSSAStatus) == linac.SSAOn && !quenched
	if rfOn {
		wr(linac.PVRFState, linac.RFOn)
	} else {
		wr(linac.PVRFState, linac.RFOff)
	}
	wr(linac.PVRFMode, rd(linac.PVRFModeControl))

	// Amplitude walks toward the setpoint while RF is on, decays otherwise.
	aact := rd(linac.PVAmplitudeAct)
	target := 0.0
	if rfOn {
		target = rd(linac.PVAmplitudeDes)
	}
	wr(linac.PVAmplitudeAct, walk(aact, target, s.cfg.AmplitudeSlewRate))

	// Detune: held near resonance while the loop is closed, random drift
	// otherwise.
	detune := rd(linac.PVDetune)
	if rfOn {
		wr(linac.PVDetune, walk(detune, 0, s.cfg.DetuneDriftRate*2))
	} else {
		wr(linac.PVDetune, detune+(rand.Float64()*2-1)*s.cfg.DetuneDriftRate) //nolint:gosec // simulation noise
	}

	// Characterization: one tick of running, then complete.
	switch {
	case rd(linac.PVCharStart) == 1:
		wr(linac.PVCharStart, 0)
		wr(linac.PVCharStatus, linac.CharRunning)
	case rd(linac.PVCharStatus) == linac.CharRunning:
		wr(linac.PVCharStatus, linac.CharComplete)
	}
}

// walk moves current toward target by at most step.
func walk(current, target, step float64) float64 {
	diff := target - current
	if diff > step {
		return current + step
	}
	if diff < -step {
		return current - step
	}
	return target
}

// ForceQuench latches the quench interlock of the cavity with the given
// PV prefix and trips its RF off, exactly as a real quench would present.
// Used by fault-injection scenarios and tests.
func (s *Server) ForceQuench(cavityPrefix string) {
	s.set(cavityPrefix+linac.PVQuenchLatch, linac.QuenchLatched)
	s.set(cavityPrefix+linac.PVRFState, linac.RFOff)
}
