// Package linac models the superconducting linac topology: the machine
// root, linac sections, cryomodules and cavities.
//
// The hierarchy is an arena of nodes indexed by stable id, with parent and
// children stored as ids rather than live references. It is built once
// from configuration and read-only afterwards, so every method is safe for
// unsynchronised concurrent use.
//
// Node ids follow the operator naming: "machine", "L1B", "CM02",
// "CM02/3". Each cavity node carries the full set of process-variable
// addresses derived from its "ACCL:{linac}:{cm}{cavity}0:" prefix.
package linac
