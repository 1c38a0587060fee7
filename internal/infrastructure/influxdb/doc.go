// Package influxdb writes cavity telemetry to InfluxDB v2.
//
// Three measurements are produced: cavity_rf (amplitude and detune
// samples), setup_state (per-node state transitions) and quench (latch
// trips). All writes are batched and non-blocking; the orchestration path
// never waits on the time-series store.
package influxdb
