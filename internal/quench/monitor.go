package quench

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
	"github.com/slaclab/sc-linac-physics/internal/setup"
)

// Event is one detected quench.
type Event struct {
	ID            string    `json:"id"`
	CavityID      string    `json:"cavity_id"`
	MeasuredValue float64   `json:"measured_value"`
	Threshold     float64   `json:"threshold"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventSink consumes quench events. Implementations must be safe for
// concurrent use and must not block.
type EventSink interface {
	QuenchDetected(ctx context.Context, event Event)
}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

// QuenchDetected implements EventSink.
func (m MultiSink) QuenchDetected(ctx context.Context, event Event) {
	for _, s := range m {
		s.QuenchDetected(ctx, event)
	}
}

type noopSink struct{}

func (noopSink) QuenchDetected(context.Context, Event) {}

// Monitor watches every cavity's quench latch independently of any setup
// invocation. On a latch trip it drives RF off, emits an event, and
// signals the abort tokens of whatever invocations cover the cavity. The
// monitor never stops on detection; it re-arms once the latch clears.
type Monitor struct {
	machine     *linac.Machine
	client      pv.Client
	coord       *setup.Coordinator
	sink        EventSink
	logger      setup.Logger
	machineWide bool

	mu     sync.Mutex
	armed  map[string]bool
	unsubs []pv.Unsubscribe
}

// Config controls escalation scope.
type Config struct {
	// MachineWide treats every quench as machine-fatal: all active
	// invocations are signalled, not just those covering the quenched
	// cavity.
	MachineWide bool
}

// NewMonitor creates a monitor for every cavity in the machine. sink and
// logger may be nil.
func NewMonitor(machine *linac.Machine, client pv.Client, coord *setup.Coordinator, sink EventSink, cfg Config, logger setup.Logger) *Monitor {
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{
		machine:     machine,
		client:      client,
		coord:       coord,
		sink:        sink,
		logger:      logger,
		machineWide: cfg.MachineWide,
		armed:       make(map[string]bool),
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Start subscribes to every cavity's quench latch. The subscriptions stay
// live until Stop; ctx bounds only the handlers' downstream work.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for cav := range m.machine.Leaves(m.machine.Root()) {
		cav := cav
		m.armed[cav.ID] = true

		unsub, err := m.client.Subscribe(cav.PV(linac.PVQuenchLatch), func(u pv.Update) {
			m.onLatch(ctx, cav, u)
		})
		if err != nil {
			return err
		}
		m.unsubs = append(m.unsubs, unsub)
	}

	m.logger.Info("quench monitoring armed",
		"cavities", len(m.armed), "machine_wide", m.machineWide)
	return nil
}

// Stop cancels all subscriptions.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// onLatch handles one latch update. The armed flag makes detection
// edge-triggered: a latched cavity fires once, then re-arms when the
// latch clears.
func (m *Monitor) onLatch(ctx context.Context, cav *linac.Node, u pv.Update) {
	latched := u.Value >= linac.QuenchLatched

	m.mu.Lock()
	if !latched {
		m.armed[cav.ID] = true
		m.mu.Unlock()
		return
	}
	if !m.armed[cav.ID] {
		m.mu.Unlock()
		return
	}
	m.armed[cav.ID] = false
	m.mu.Unlock()

	// Handlers must not block; the response runs on its own goroutine.
	go m.respond(ctx, cav, u)
}

// respond drives the protective response for one quench: RF off first,
// then abort signalling, then event fan-out.
func (m *Monitor) respond(ctx context.Context, cav *linac.Node, u pv.Update) {
	if err := m.client.Put(ctx, cav.PV(linac.PVRFControl), linac.RFOff); err != nil {
		m.logger.Error("quench RF-off write failed", "cavity", cav.ID, "error", err)
	}

	var signalled int
	if m.machineWide {
		signalled = m.coord.SignalAll()
	} else {
		signalled = m.coord.SignalChain(m.machine.Ancestors(cav))
	}

	event := Event{
		ID:            uuid.New().String(),
		CavityID:      cav.ID,
		MeasuredValue: u.Value,
		Threshold:     linac.QuenchLatched,
		Timestamp:     u.Timestamp.UTC(),
	}
	m.logger.Warn("quench detected",
		"cavity", cav.ID, "latch", u.Value, "invocations_signalled", signalled)

	m.sink.QuenchDetected(ctx, event)
}
