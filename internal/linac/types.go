package linac

// Level identifies a node's position in the machine hierarchy.
type Level string

// Level constants, from root to leaf.
const (
	LevelMachine    Level = "machine"
	LevelLinac      Level = "linac"
	LevelCryomodule Level = "cryomodule"
	LevelCavity     Level = "cavity"
)

// CavitiesPerCryomodule is fixed by the cryomodule design: every module
// houses exactly eight 9-cell cavities.
const CavitiesPerCryomodule = 8

// MachineID is the id of the single root node.
const MachineID = "machine"

// Node is one element of the machine topology.
//
// The topology is built once at startup and is read-only thereafter, so
// Nodes are safe for unsynchronised concurrent reads. Runtime setup state
// is tracked by the orchestrator, never stored on the Node.
type Node struct {
	// ID is the stable hierarchy key, e.g. "machine", "L1B", "CM02", "CM02/3".
	ID string

	// Name is the short local name: linac section ("L1B"), two-character
	// cryomodule code ("02", "H1") or cavity number ("3").
	Name string

	Level Level

	// Parent is the parent node id, empty for the machine root.
	Parent string

	// Children holds child ids in configuration order.
	Children []string

	// PVPrefix is the EPICS-style address prefix for this node's process
	// variables, e.g. "ACCL:L1B:0230:" for cavity 3 of CM02.
	PVPrefix string

	// PVs maps binding names (ADES, RFCTRL, ...) to full PV addresses.
	// Populated for cavity nodes.
	PVs map[string]string

	// HighLevel marks cryomodules that machine-wide bulk operations may
	// exclude (the harmonic linearizer modules).
	HighLevel bool
}

// PV returns the full address for a named binding, or "" if the node has
// no such binding.
func (n *Node) PV(binding string) string {
	return n.PVs[binding]
}

// IsLeaf reports whether the node is a cavity.
func (n *Node) IsLeaf() bool {
	return n.Level == LevelCavity
}

func (n *Node) String() string {
	return n.ID
}
