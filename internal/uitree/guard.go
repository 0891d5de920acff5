package uitree

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// guardState is the process-wide installation record of the safety guard
type guardState struct {
	mu        sync.Mutex
	refs      int
	saved     *Primitives
	anomalies atomic.Int64
}

var guard guardState

// Lease is one holder's claim on the installed guard
type Lease struct {
	once sync.Once
}

// Install puts the guarded primitives in place and returns a lease. Installation is
// reference counted: nested installs share the first installation, and the native
// primitives come back when the last lease is released. The logger of the first
// installer receives every anomaly until then.
func Install(logger zerolog.Logger) *Lease {
	guard.mu.Lock()
	defer guard.mu.Unlock()

	guard.refs++
	if guard.refs == 1 {
		log := logger.With().Str("component", "uitree_guard").Logger()
		guard.saved = active.Load()
		active.Store(guarded(guard.saved, log))
		log.Debug().Msg("Mutation guard installed")
	}
	return &Lease{}
}

// Release gives the lease back. Releasing the same lease twice is a no-op.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		guard.mu.Lock()
		defer guard.mu.Unlock()

		if guard.refs == 0 {
			return
		}
		guard.refs--
		if guard.refs == 0 {
			active.Store(guard.saved)
			guard.saved = nil
		}
	})
}

// Installed reports whether guarded primitives are active
func Installed() bool {
	guard.mu.Lock()
	defer guard.mu.Unlock()
	return guard.refs > 0
}

// Anomalies returns how many mutations the guard has intercepted since process start
func Anomalies() int64 {
	return guard.anomalies.Load()
}

func anomaly(log zerolog.Logger, op, msg string, node, expected, actual *Node) {
	guard.anomalies.Add(1)
	log.Warn().
		Str("op", op).
		Str("node", node.String()).
		Str("expected_parent", expected.String()).
		Str("actual_parent", actual.String()).
		Msg(msg)
}

// guarded wraps base so that a stale or detached target yields a harmless result
// instead of ErrNotFound. Hierarchy errors still propagate.
func guarded(base *Primitives, log zerolog.Logger) *Primitives {
	return &Primitives{
		InsertBefore: func(parent, child, ref *Node) (*Node, error) {
			if parent == nil || child == nil {
				anomaly(log, "insert_before", "Insert with missing parent or child ignored", child, parent, nil)
				return child, nil
			}
			if ref != nil {
				if actual := ref.Parent(); actual != parent {
					anomaly(log, "insert_before", "Insert before a node that is not a child of the parent ignored", ref, parent, actual)
					return child, nil
				}
			}
			node, err := base.InsertBefore(parent, child, ref)
			if errors.Is(err, ErrNotFound) {
				anomaly(log, "insert_before", "Insert target vanished during mutation", ref, parent, nil)
				return child, nil
			}
			return node, err
		},
		RemoveChild: func(parent, child *Node) (*Node, error) {
			if child == nil {
				anomaly(log, "remove_child", "Remove of missing node ignored", nil, parent, nil)
				return nil, nil
			}
			actual := child.Parent()
			if actual == nil {
				anomaly(log, "remove_child", "Remove of detached node ignored", child, parent, nil)
				return child, nil
			}
			if actual != parent {
				anomaly(log, "remove_child", "Removal re-routed to the node's actual parent", child, parent, actual)
				parent = actual
			}
			node, err := base.RemoveChild(parent, child)
			if errors.Is(err, ErrNotFound) {
				anomaly(log, "remove_child", "Node detached during removal", child, parent, nil)
				return child, nil
			}
			return node, err
		},
		ReplaceChild: func(parent, newChild, oldChild *Node) (*Node, error) {
			if parent == nil || newChild == nil || oldChild == nil {
				anomaly(log, "replace_child", "Replace with missing node ignored", oldChild, parent, nil)
				return oldChild, nil
			}
			if actual := oldChild.Parent(); actual != parent {
				anomaly(log, "replace_child", "Replace of a node that is not a child of the parent ignored", oldChild, parent, actual)
				return oldChild, nil
			}
			node, err := base.ReplaceChild(parent, newChild, oldChild)
			if errors.Is(err, ErrNotFound) {
				anomaly(log, "replace_child", "Replace target vanished during mutation", oldChild, parent, nil)
				return oldChild, nil
			}
			return node, err
		},
	}
}
