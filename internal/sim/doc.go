// Package sim provides the simulated process-variable backend.
//
// The Server holds every cavity PV of the machine in memory, answers
// reads, accepts writes with read-after-write consistency, delivers
// change notifications to subscribers synchronously within the write, and
// runs a background loop approximating the hardware: amplitude slews
// toward its setpoint while RF is on, detune drifts, characterization
// completes a tick after it is started, and a latched quench trips RF.
//
// It implements pv.Client, so the orchestrator and quench monitors run
// against it unchanged. Fault scenarios are injected with ForceQuench or
// plain Puts from a test harness.
package sim
