// Package pv defines the process-variable client boundary: connect, get,
// put and subscribe-to-change with asynchronous delivery of updates.
//
// The control logic never talks to a protocol library directly; it holds a
// pv.Client. The sim package provides the in-process backend used for
// development and deterministic testing, selected by setting
// SCLINAC_PV_PROTOCOL=fake at startup.
package pv
