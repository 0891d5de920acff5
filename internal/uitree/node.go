// Package uitree models the host page's UI tree and the structural mutation
// primitives that both the host renderer and the embedded video provider use.
package uitree

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when a reference or target node is not a child of the given parent
	ErrNotFound = errors.New("node not found")
	// ErrHierarchy is returned when a mutation would make a node its own ancestor
	ErrHierarchy = errors.New("hierarchy request error")
)

// treeMu serialises every structural read and write across all trees
var treeMu sync.RWMutex

// Node is an element of the UI tree
type Node struct {
	Tag string
	ID  string

	parent   *Node
	children []*Node
}

// NewNode creates a detached node
func NewNode(tag, id string) *Node {
	return &Node{Tag: tag, ID: id}
}

// String renders the node as tag#id for logs
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.ID == "" {
		return n.Tag
	}
	return fmt.Sprintf("%s#%s", n.Tag, n.ID)
}

// Parent returns the current parent, nil when detached
func (n *Node) Parent() *Node {
	treeMu.RLock()
	defer treeMu.RUnlock()
	return n.parent
}

// Children returns a copy of the child list
func (n *Node) Children() []*Node {
	treeMu.RLock()
	defer treeMu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// FindByID returns the first descendant (or n itself) with the given id
func (n *Node) FindByID(id string) *Node {
	treeMu.RLock()
	defer treeMu.RUnlock()
	return n.findLocked(id)
}

func (n *Node) findLocked(id string) *Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.children {
		if found := c.findLocked(id); found != nil {
			return found
		}
	}
	return nil
}

// CountTag counts descendants of n with the given tag
func (n *Node) CountTag(tag string) int {
	treeMu.RLock()
	defer treeMu.RUnlock()
	return n.countLocked(tag)
}

func (n *Node) countLocked(tag string) int {
	count := 0
	for _, c := range n.children {
		if c.Tag == tag {
			count++
		}
		count += c.countLocked(tag)
	}
	return count
}

// Contains reports whether other is n or one of its descendants
func (n *Node) Contains(other *Node) bool {
	treeMu.RLock()
	defer treeMu.RUnlock()
	return n.containsLocked(other)
}

func (n *Node) containsLocked(other *Node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

func (n *Node) indexLocked(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

func (n *Node) detachLocked() {
	if n.parent == nil {
		return
	}
	p := n.parent
	if i := p.indexLocked(n); i >= 0 {
		p.children = append(p.children[:i], p.children[i+1:]...)
	}
	n.parent = nil
}
