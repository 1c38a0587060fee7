// Package setup orchestrates hierarchical setup and shutdown of the
// machine's cavities.
//
// An invocation targets one node (machine, linac, cryomodule or cavity)
// and fans out concurrently: interior nodes spawn one task per child and
// wait, cavities run the PV transition sequence against the control
// system. Every invocation carries an abort token shared with all of its
// tasks; signalling the token drains the subtree to ABORTED. The
// Coordinator maps node ids to active tokens, which both enforces one
// invocation per subtree and lets a quench on one cavity cancel exactly
// the invocations covering it.
//
// Connection faults are retried with a doubling backoff; quench faults
// are never retried.
package setup
