package uitree

import (
	"fmt"
	"sync/atomic"
)

// Primitives is the table of structural mutation operations. All callers go through the
// process-wide active table, which the safety guard swaps while a session is live.
type Primitives struct {
	InsertBefore func(parent, child, ref *Node) (*Node, error)
	RemoveChild  func(parent, child *Node) (*Node, error)
	ReplaceChild func(parent, newChild, oldChild *Node) (*Node, error)
}

var native = &Primitives{
	InsertBefore: insertBefore,
	RemoveChild:  removeChild,
	ReplaceChild: replaceChild,
}

var active atomic.Pointer[Primitives]

func init() {
	active.Store(native)
}

// InsertBefore inserts child into parent before ref; a nil ref appends
func InsertBefore(parent, child, ref *Node) (*Node, error) {
	return active.Load().InsertBefore(parent, child, ref)
}

// AppendChild appends child as the last child of parent
func AppendChild(parent, child *Node) (*Node, error) {
	return active.Load().InsertBefore(parent, child, nil)
}

// RemoveChild removes child from parent and returns it
func RemoveChild(parent, child *Node) (*Node, error) {
	return active.Load().RemoveChild(parent, child)
}

// ReplaceChild puts newChild in oldChild's place under parent and returns oldChild
func ReplaceChild(parent, newChild, oldChild *Node) (*Node, error) {
	return active.Load().ReplaceChild(parent, newChild, oldChild)
}

func insertBefore(parent, child, ref *Node) (*Node, error) {
	if parent == nil || child == nil {
		return nil, fmt.Errorf("insert_before: %w", ErrNotFound)
	}

	treeMu.Lock()
	defer treeMu.Unlock()

	if child.containsLocked(parent) {
		return nil, fmt.Errorf("insert_before %s into %s: %w", child, parent, ErrHierarchy)
	}
	if ref != nil && ref.parent != parent {
		return nil, fmt.Errorf("insert_before: reference %s under %s: %w", ref, parent, ErrNotFound)
	}
	if ref == child {
		return child, nil
	}

	child.detachLocked()
	child.parent = parent

	if ref == nil {
		parent.children = append(parent.children, child)
		return child, nil
	}

	i := parent.indexLocked(ref)
	parent.children = append(parent.children, nil)
	copy(parent.children[i+1:], parent.children[i:])
	parent.children[i] = child
	return child, nil
}

func removeChild(parent, child *Node) (*Node, error) {
	if parent == nil || child == nil {
		return nil, fmt.Errorf("remove_child: %w", ErrNotFound)
	}

	treeMu.Lock()
	defer treeMu.Unlock()

	if child.parent != parent {
		return nil, fmt.Errorf("remove_child %s from %s: %w", child, parent, ErrNotFound)
	}
	child.detachLocked()
	return child, nil
}

func replaceChild(parent, newChild, oldChild *Node) (*Node, error) {
	if parent == nil || newChild == nil || oldChild == nil {
		return nil, fmt.Errorf("replace_child: %w", ErrNotFound)
	}

	treeMu.Lock()
	defer treeMu.Unlock()

	if oldChild.parent != parent {
		return nil, fmt.Errorf("replace_child %s in %s: %w", oldChild, parent, ErrNotFound)
	}
	if newChild.containsLocked(parent) {
		return nil, fmt.Errorf("replace_child with %s in %s: %w", newChild, parent, ErrHierarchy)
	}
	if newChild == oldChild {
		return oldChild, nil
	}

	newChild.detachLocked()
	i := parent.indexLocked(oldChild)
	parent.children[i] = newChild
	newChild.parent = parent
	oldChild.parent = nil
	return oldChild, nil
}
