// Package quench provides always-on quench latch monitoring.
//
// The monitor is independent of any setup invocation: it subscribes to
// every cavity's QUENCH_LTCH record at startup and stays armed for the
// life of the process. A latch trip drives RF off on the affected cavity,
// cancels the setup invocations covering it (or all invocations when
// configured machine-wide) and fans the event out to the configured
// sinks for persistence and publication.
package quench
