package setup

import (
	"sync"
	"time"
)

// Token is the cancellation handle scoped to one orchestrator invocation.
// It is shared by reference with every descendant task spawned for that
// invocation. Once signalled it stays signalled.
//
// Thread Safety: all methods are safe for concurrent use.
type Token struct {
	mu        sync.Mutex
	done      chan struct{}
	signalled bool
	at        time.Time
	callbacks []func()
}

// NewToken creates an unsignalled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Signal marks the token. Idempotent: signalling twice has the same
// observable effect as signalling once. Registered callbacks are invoked
// asynchronously, each at most once.
func (t *Token) Signal() {
	t.mu.Lock()
	if t.signalled {
		t.mu.Unlock()
		return
	}
	t.signalled = true
	t.at = time.Now()
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, cb := range callbacks {
		go cb()
	}
}

// Signalled reports whether the token has been signalled.
func (t *Token) Signalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signalled
}

// SignalledAt returns when the token was signalled, if it was.
func (t *Token) SignalledAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.at, t.signalled
}

// Done returns a channel closed when the token is signalled. Used to race
// cancellation against readback timeouts; cancellation wins if both are
// ready.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnSignal registers a callback invoked at or after signalling, at most
// once, asynchronously. If the token is already signalled the callback is
// scheduled immediately.
func (t *Token) OnSignal(cb func()) {
	t.mu.Lock()
	if t.signalled {
		t.mu.Unlock()
		go cb()
		return
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// Coordinator multiplexes abort signals onto active invocations.
//
// Every node id participating in an invocation is bound to that
// invocation's token; binding fails if any id is already bound, which is
// how the orchestrator guarantees one active invocation per subtree.
// A quench signals exactly the token(s) bound along the affected cavity's
// ancestor chain, so aborting one cryomodule never disturbs a concurrent
// invocation on a sibling.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*Token
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{active: make(map[string]*Token)}
}

// Bind registers token as the active invocation for every id. If any id
// is already bound to a live token, nothing is bound and
// ErrActiveInvocation is returned.
func (c *Coordinator) Bind(token *Token, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if _, bound := c.active[id]; bound {
			return ErrActiveInvocation
		}
	}
	for _, id := range ids {
		c.active[id] = token
	}
	return nil
}

// Release unbinds every id. Called when the invocation's last task has
// terminated.
func (c *Coordinator) Release(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.active, id)
	}
}

// TokenFor returns the token bound to a node id, or nil.
func (c *Coordinator) TokenFor(id string) *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[id]
}

// SignalNode signals the token bound to the given node id. Returns false
// if no invocation is active there.
func (c *Coordinator) SignalNode(id string) bool {
	token := c.TokenFor(id)
	if token == nil {
		return false
	}
	token.Signal()
	return true
}

// SignalChain signals every distinct token bound along an ancestor chain
// (cavity upward). Used by the quench monitor for cavity-local
// escalation.
func (c *Coordinator) SignalChain(ids []string) int {
	c.mu.Lock()
	tokens := make(map[*Token]struct{})
	for _, id := range ids {
		if t, ok := c.active[id]; ok {
			tokens[t] = struct{}{}
		}
	}
	c.mu.Unlock()

	for t := range tokens {
		t.Signal()
	}
	return len(tokens)
}

// SignalAll signals every active token. Used when quench is configured as
// machine-wide-fatal.
func (c *Coordinator) SignalAll() int {
	c.mu.Lock()
	tokens := make(map[*Token]struct{})
	for _, t := range c.active {
		tokens[t] = struct{}{}
	}
	c.mu.Unlock()

	for t := range tokens {
		t.Signal()
	}
	return len(tokens)
}
