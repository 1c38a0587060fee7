package linac

import (
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
)

// ErrNotFound is returned when a hierarchy key does not resolve to a node.
var ErrNotFound = errors.New("linac: node not found")

// Machine is the immutable topology arena: machine -> linacs ->
// cryomodules -> cavities, indexed by stable node id.
//
// Parent/child references are stored as ids rather than pointers, so the
// arena has no ownership cycles. Built once at startup; all methods are
// safe for unsynchronised concurrent reads.
type Machine struct {
	nodes map[string]*Node
	root  *Node

	// cryomodules maps the two-character code ("02", "H1") to the node id,
	// the form operators address modules by.
	cryomodules map[string]string
}

// Build constructs the machine topology from configuration.
func Build(cfg config.HierarchyConfig) (*Machine, error) {
	m := &Machine{
		nodes:       make(map[string]*Node),
		cryomodules: make(map[string]string),
	}

	highLevel := make(map[string]bool, len(cfg.HighLevel))
	for _, name := range cfg.HighLevel {
		highLevel[name] = true
	}

	root := &Node{
		ID:    MachineID,
		Name:  MachineID,
		Level: LevelMachine,
	}
	m.nodes[root.ID] = root
	m.root = root

	for _, linacCfg := range cfg.Linacs {
		ln := &Node{
			ID:     linacCfg.Name,
			Name:   linacCfg.Name,
			Level:  LevelLinac,
			Parent: root.ID,
		}
		if _, exists := m.nodes[ln.ID]; exists {
			return nil, fmt.Errorf("duplicate linac %q", ln.ID)
		}
		m.nodes[ln.ID] = ln
		root.Children = append(root.Children, ln.ID)

		for _, cmName := range linacCfg.Cryomodules {
			cm := &Node{
				ID:        "CM" + cmName,
				Name:      cmName,
				Level:     LevelCryomodule,
				Parent:    ln.ID,
				PVPrefix:  cryomodulePVPrefix(ln.Name, cmName),
				HighLevel: highLevel[cmName],
			}
			if _, exists := m.nodes[cm.ID]; exists {
				return nil, fmt.Errorf("duplicate cryomodule %q", cmName)
			}
			m.nodes[cm.ID] = cm
			m.cryomodules[cmName] = cm.ID
			ln.Children = append(ln.Children, cm.ID)

			for cavity := 1; cavity <= CavitiesPerCryomodule; cavity++ {
				cav := buildCavity(ln.Name, cm, cavity)
				m.nodes[cav.ID] = cav
				cm.Children = append(cm.Children, cav.ID)
			}
		}
	}

	return m, nil
}

// buildCavity constructs one cavity node with its PV bindings.
func buildCavity(linacName string, cm *Node, cavity int) *Node {
	prefix := cavityPVPrefix(linacName, cm.Name, cavity)
	pvs := make(map[string]string, len(cavityPVBindings))
	for _, binding := range cavityPVBindings {
		pvs[binding] = prefix + binding
	}
	return &Node{
		ID:       cm.ID + "/" + strconv.Itoa(cavity),
		Name:     strconv.Itoa(cavity),
		Level:    LevelCavity,
		Parent:   cm.ID,
		PVPrefix: prefix,
		PVs:      pvs,
	}
}

// Root returns the machine root node.
func (m *Machine) Root() *Node {
	return m.root
}

// Resolve returns the node with the given id.
//
// Besides exact ids it accepts the operator short forms: a bare
// two-character cryomodule code ("02", "H1") and "code/cavity" ("02/3").
func (m *Machine) Resolve(id string) (*Node, error) {
	if n, ok := m.nodes[id]; ok {
		return n, nil
	}
	if cmID, ok := m.cryomodules[id]; ok {
		return m.nodes[cmID], nil
	}
	// "02/3" style cavity keys
	for code, cmID := range m.cryomodules {
		if len(id) > len(code)+1 && id[:len(code)] == code && id[len(code)] == '/' {
			if n, ok := m.nodes[cmID+"/"+id[len(code)+1:]]; ok {
				return n, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// ResolveCryomodule returns the cryomodule node for a two-character code.
func (m *Machine) ResolveCryomodule(code string) (*Node, error) {
	id, ok := m.cryomodules[code]
	if !ok {
		return nil, fmt.Errorf("%w: cryomodule %q", ErrNotFound, code)
	}
	return m.nodes[id], nil
}

// ResolveCavity returns the cavity node for a cryomodule code and cavity
// number 1-8.
func (m *Machine) ResolveCavity(code string, cavity int) (*Node, error) {
	cm, err := m.ResolveCryomodule(code)
	if err != nil {
		return nil, err
	}
	if cavity < 1 || cavity > CavitiesPerCryomodule {
		return nil, fmt.Errorf("%w: cavity %d of CM%s", ErrNotFound, cavity, code)
	}
	return m.nodes[cm.ID+"/"+strconv.Itoa(cavity)], nil
}

// Parent returns the parent of a node, or nil for the root.
func (m *Machine) Parent(n *Node) *Node {
	if n.Parent == "" {
		return nil
	}
	return m.nodes[n.Parent]
}

// Children returns the ordered child nodes of a node.
func (m *Machine) Children(n *Node) []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, id := range n.Children {
		children = append(children, m.nodes[id])
	}
	return children
}

// Descendants returns a lazy pre-order sequence over the subtree rooted at
// n, starting with n itself.
func (m *Machine) Descendants(n *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		m.walk(n, yield)
	}
}

// walk yields n and its subtree pre-order; returns false to stop early.
func (m *Machine) walk(n *Node, yield func(*Node) bool) bool {
	if !yield(n) {
		return false
	}
	for _, id := range n.Children {
		if !m.walk(m.nodes[id], yield) {
			return false
		}
	}
	return true
}

// Leaves returns a lazy sequence over the cavity nodes under n, in
// pre-order. If n is itself a cavity the sequence contains only n.
func (m *Machine) Leaves(n *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for node := range m.Descendants(n) {
			if node.IsLeaf() {
				if !yield(node) {
					return
				}
			}
		}
	}
}

// Ancestors returns the chain of node ids from n up to and including the
// root, starting with n itself. Used to locate the tokens a quench must
// signal.
func (m *Machine) Ancestors(n *Node) []string {
	var chain []string
	for cur := n; cur != nil; cur = m.Parent(cur) {
		chain = append(chain, cur.ID)
	}
	return chain
}

// NodeCount returns the total number of nodes in the arena.
func (m *Machine) NodeCount() int {
	return len(m.nodes)
}
