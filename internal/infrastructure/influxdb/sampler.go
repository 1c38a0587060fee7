package influxdb

import (
	"context"
	"time"

	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
)

// Sampler periodically reads every cavity's amplitude and detune and
// writes the samples as cavity_rf points. It runs for the life of the
// process and tolerates read failures silently: a missed sample is not
// worth a log line at this rate.
type Sampler struct {
	machine  *linac.Machine
	client   pv.Client
	influx   *Client
	interval time.Duration
}

// NewSampler creates a sampler. interval <= 0 defaults to one second.
func NewSampler(machine *linac.Machine, client pv.Client, influx *Client, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		machine:  machine,
		client:   client,
		influx:   influx,
		interval: interval,
	}
}

// Run samples until ctx is cancelled. Call from its own goroutine.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	for cav := range s.machine.Leaves(s.machine.Root()) {
		amplitude, err := s.client.Get(ctx, cav.PV(linac.PVAmplitudeAct))
		if err != nil {
			continue
		}
		detune, err := s.client.Get(ctx, cav.PV(linac.PVDetune))
		if err != nil {
			continue
		}
		s.influx.WriteCavitySample(cav.ID, amplitude, detune)
	}
}
