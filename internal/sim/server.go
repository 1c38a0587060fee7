package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
)

// Kind classifies a simulated PV's value space.
type Kind string

// Kind constants.
const (
	KindScalar Kind = "scalar"
	KindEnum   Kind = "enum"
)

// simPV is one simulated process variable. Owned exclusively by the
// Server; mutated only through Put (external) or the physics loop.
type simPV struct {
	name      string
	kind      Kind
	value     float64
	lastWrite time.Time
}

// Logger is the minimal logging interface the server needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Server is the simulated process-variable backend. It implements
// pv.Client and stands in for live hardware during development and
// deterministic testing.
//
// Thread Safety: all methods are safe for concurrent use. Subscriber
// callbacks are invoked without the store lock held, synchronously within
// the triggering Put.
type Server struct {
	cfg config.SimulatorConfig

	mu        sync.RWMutex
	pvs       map[string]*simPV
	connected bool

	// cavities holds the PV prefix of every cavity, for the physics loop.
	cavities []string

	subMu   sync.RWMutex
	subs    map[string]map[int]pv.Handler
	nextSub int

	logger Logger
}

// NewServer builds a simulated backend holding every PV of every cavity
// in the machine, initialised to a healthy powered-down state.
func NewServer(machine *linac.Machine, cfg config.SimulatorConfig) *Server {
	s := &Server{
		cfg:    cfg,
		pvs:    make(map[string]*simPV),
		subs:   make(map[string]map[int]pv.Handler),
		logger: noopLogger{},
	}

	for cavity := range machine.Leaves(machine.Root()) {
		s.addCavityPVs(cavity)
		s.cavities = append(s.cavities, cavity.PVPrefix)
	}

	return s
}

// SetLogger sets an optional logger.
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// addCavityPVs registers the PV set for one cavity with initial values.
func (s *Server) addCavityPVs(cavity *linac.Node) {
	initial := map[string]struct {
		kind  Kind
		value float64
	}{
		linac.PVAmplitudeDes:   {KindScalar, 16.6},
		linac.PVAmplitudeAct:   {KindScalar, 0},
		linac.PVRFControl:      {KindEnum, linac.RFOff},
		linac.PVRFState:        {KindEnum, linac.RFOff},
		linac.PVRFModeControl:  {KindEnum, linac.ModePulse},
		linac.PVRFMode:         {KindEnum, linac.ModePulse},
		linac.PVDetune:         {KindScalar, 50},
		linac.PVQuenchLatch:    {KindEnum, linac.QuenchClear},
		linac.PVInterlockReset: {KindEnum, 0},
		linac.PVCharStart:      {KindEnum, 0},
		linac.PVCharStatus:     {KindEnum, linac.CharIdle},
		linac.PVSSAOn:          {KindEnum, 0},
		linac.PVSSAOff:         {KindEnum, 0},
		linac.PVSSAStatus:      {KindEnum, linac.SSAOff},
	}

	for binding, init := range initial {
		name := cavity.PV(binding)
		s.pvs[name] = &simPV{
			name:  name,
			kind:  init.kind,
			value: init.value,
		}
	}
}

// Connect implements pv.Client. The in-process backend always connects.
func (s *Server) Connect(_ context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Close implements pv.Client.
func (s *Server) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Get implements pv.Client with read-after-write consistency.
func (s *Server) Get(_ context.Context, name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return 0, fmt.Errorf("%w: simulator not connected", pv.ErrConnection)
	}
	entry, ok := s.pvs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", pv.ErrNotFound, name)
	}
	return entry.value, nil
}

// Put implements pv.Client. The write is stored and delivered to all
// current subscribers before Put returns.
func (s *Server) Put(_ context.Context, name string, value float64) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("%w: simulator not connected", pv.ErrConnection)
	}
	entry, ok := s.pvs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", pv.ErrNotFound, name)
	}
	entry.value = value
	entry.lastWrite = time.Now()
	s.mu.Unlock()

	s.notify(name, value)
	return nil
}

// Subscribe implements pv.Client.
func (s *Server) Subscribe(name string, handler pv.Handler) (pv.Unsubscribe, error) {
	s.mu.RLock()
	_, ok := s.pvs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", pv.ErrNotFound, name)
	}

	s.subMu.Lock()
	if s.subs[name] == nil {
		s.subs[name] = make(map[int]pv.Handler)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[name][id] = handler
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[name], id)
			s.subMu.Unlock()
		})
	}, nil
}

// notify delivers an update to every current subscriber of name.
// Called without the store lock held.
func (s *Server) notify(name string, value float64) {
	s.subMu.RLock()
	handlers := make([]pv.Handler, 0, len(s.subs[name]))
	for _, h := range s.subs[name] {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()

	update := pv.Update{Name: name, Value: value, Timestamp: time.Now()}
	for _, h := range handlers {
		h(update)
	}
}

// Names returns all known PV names, sorted, for diagnostic use.
func (s *Server) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.pvs))
	for name := range s.pvs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// get reads a value internally, for use by the physics loop.
func (s *Server) get(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pvs[name]
	if !ok {
		return 0, false
	}
	return entry.value, true
}

// set stores a value internally and notifies subscribers if it changed.
func (s *Server) set(name string, value float64) {
	s.mu.Lock()
	entry, ok := s.pvs[name]
	if !ok || entry.value == value {
		s.mu.Unlock()
		return
	}
	entry.value = value
	s.mu.Unlock()

	s.notify(name, value)
}
