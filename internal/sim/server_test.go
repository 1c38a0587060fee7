package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
)

func testServer(t *testing.T) (*Server, *linac.Machine) {
	t.Helper()

	m, err := linac.Build(config.HierarchyConfig{
		Linacs:    []config.LinacConfig{{Name: "L0B", Cryomodules: []string{"01"}}},
		HighLevel: nil,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	s := NewServer(m, config.SimulatorConfig{
		TickIntervalMS:    10,
		AmplitudeSlewRate: 2.0,
		DetuneDriftRate:   5.0,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, m
}

func cavityPV(t *testing.T, m *linac.Machine, cavity int, binding string) string {
	t.Helper()
	cav, err := m.ResolveCavity("01", cavity)
	if err != nil {
		t.Fatalf("ResolveCavity: %v", err)
	}
	return cav.PV(binding)
}

func TestReadAfterWrite(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()
	name := cavityPV(t, m, 1, linac.PVAmplitudeDes)

	if err := s.Put(ctx, name, 12.5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 12.5 {
		t.Errorf("Get = %v, want 12.5", got)
	}
}

func TestUnknownPV(t *testing.T) {
	s, _ := testServer(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "ACCL:L9B:9999:ADES"); !errors.Is(err, pv.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "ACCL:L9B:9999:ADES", 1); !errors.Is(err, pv.ErrNotFound) {
		t.Errorf("Put unknown = %v, want ErrNotFound", err)
	}
}

func TestDisconnectedErrors(t *testing.T) {
	s, m := testServer(t)
	name := cavityPV(t, m, 1, linac.PVAmplitudeDes)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(context.Background(), name); !errors.Is(err, pv.ErrConnection) {
		t.Errorf("Get while closed = %v, want ErrConnection", err)
	}
}

func TestSubscriberDeliveryBeforePutReturns(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()
	name := cavityPV(t, m, 2, linac.PVRFControl)

	var got []pv.Update
	unsub, err := s.Subscribe(name, func(u pv.Update) {
		got = append(got, u)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := s.Put(ctx, name, linac.RFOn); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Delivery is synchronous within Put; no waiting needed.
	if len(got) != 1 {
		t.Fatalf("got %d updates, want 1", len(got))
	}
	if got[0].Name != name || got[0].Value != linac.RFOn {
		t.Errorf("update = %+v", got[0])
	}

	// No delivery after unsubscribe. Double-unsubscribe is safe.
	unsub()
	unsub()
	if err := s.Put(ctx, name, linac.RFOff); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d updates after unsubscribe, want 1", len(got))
	}
}

func TestTickSSAAndRF(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()

	ssaOn := cavityPV(t, m, 1, linac.PVSSAOn)
	ssaStatus := cavityPV(t, m, 1, linac.PVSSAStatus)
	rfCtrl := cavityPV(t, m, 1, linac.PVRFControl)
	rfState := cavityPV(t, m, 1, linac.PVRFState)

	s.Put(ctx, ssaOn, 1)
	s.tick()

	if v, _ := s.Get(ctx, ssaStatus); v != linac.SSAOn {
		t.Errorf("SSA:STATUS = %v after power-on tick, want on", v)
	}
	if v, _ := s.Get(ctx, ssaOn); v != 0 {
		t.Errorf("SSA:PWRON = %v, want cleared", v)
	}

	s.Put(ctx, rfCtrl, linac.RFOn)
	s.tick()
	if v, _ := s.Get(ctx, rfState); v != linac.RFOn {
		t.Errorf("RFSTATE = %v with SSA on and RF requested, want on", v)
	}
}

func TestTickAmplitudeWalk(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()

	s.Put(ctx, cavityPV(t, m, 1, linac.PVAmplitudeDes), 5.0)
	s.Put(ctx, cavityPV(t, m, 1, linac.PVSSAOn), 1)
	s.Put(ctx, cavityPV(t, m, 1, linac.PVRFControl), linac.RFOn)

	aact := cavityPV(t, m, 1, linac.PVAmplitudeAct)

	s.tick() // SSA on, RF on, first step
	s.tick()
	if v, _ := s.Get(ctx, aact); v != 4.0 {
		t.Errorf("AACT after 2 on-ticks = %v, want 4.0", v)
	}

	s.tick()
	if v, _ := s.Get(ctx, aact); v != 5.0 {
		t.Errorf("AACT should clamp at setpoint, got %v", v)
	}
}

func TestTickCharacterization(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()

	start := cavityPV(t, m, 3, linac.PVCharStart)
	status := cavityPV(t, m, 3, linac.PVCharStatus)

	s.Put(ctx, start, 1)
	s.tick()
	if v, _ := s.Get(ctx, status); v != linac.CharRunning {
		t.Fatalf("PROBECALSTS = %v after start, want running", v)
	}
	s.tick()
	if v, _ := s.Get(ctx, status); v != linac.CharComplete {
		t.Errorf("PROBECALSTS = %v after second tick, want complete", v)
	}
}

func TestForceQuenchAndReset(t *testing.T) {
	s, m := testServer(t)
	ctx := context.Background()

	cav, _ := m.ResolveCavity("01", 4)
	latch := cav.PV(linac.PVQuenchLatch)
	rfState := cav.PV(linac.PVRFState)

	// Bring RF up first.
	s.Put(ctx, cav.PV(linac.PVSSAOn), 1)
	s.Put(ctx, cav.PV(linac.PVRFControl), linac.RFOn)
	s.tick()
	s.tick()
	if v, _ := s.Get(ctx, rfState); v != linac.RFOn {
		t.Fatal("precondition: RF should be on")
	}

	s.ForceQuench(cav.PVPrefix)
	if v, _ := s.Get(ctx, latch); v != linac.QuenchLatched {
		t.Error("latch not set by ForceQuench")
	}
	if v, _ := s.Get(ctx, rfState); v != linac.RFOff {
		t.Error("RF not tripped by ForceQuench")
	}

	// RF stays inhibited while latched, even with the request still on.
	s.tick()
	if v, _ := s.Get(ctx, rfState); v != linac.RFOff {
		t.Error("RF recovered while latched")
	}

	// Interlock reset clears the latch and RF follows the request again.
	s.Put(ctx, cav.PV(linac.PVInterlockReset), 1)
	s.tick()
	if v, _ := s.Get(ctx, latch); v != linac.QuenchClear {
		t.Error("latch not cleared by interlock reset")
	}
	s.tick()
	if v, _ := s.Get(ctx, rfState); v != linac.RFOn {
		t.Error("RF did not recover after reset")
	}
}

func TestNames(t *testing.T) {
	s, _ := testServer(t)

	names := s.Names()
	// 8 cavities x 14 bindings
	if len(names) != 8*14 {
		t.Errorf("Names() returned %d entries, want %d", len(names), 8*14)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Names() not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
}
