package gateway

import "sync"

// Handle is the Subscription implementation shared by the backends.
//
// The backend supplies stop, which tears down its transport. Cancel calls it
// and finishes cleanly; Fail records the cause of an unrequested loss.
type Handle struct {
	once sync.Once
	done chan struct{}
	stop func()

	mu        sync.Mutex
	err       error
	cancelled bool
}

// NewHandle creates an open subscription handle.
func NewHandle(stop func()) *Handle {
	if stop == nil {
		stop = func() {}
	}
	return &Handle{done: make(chan struct{}), stop: stop}
}

// Cancel implements Subscription.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.finish(nil)
}

// Fail ends the subscription with err. Ignored after Cancel.
func (h *Handle) Fail(err error) {
	if err == nil {
		err = ErrSubscriptionLost
	}
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.finish(err)
}

// Cancelled reports whether Cancel was called. Backends use it to tell a
// requested shutdown from a lost transport.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Done implements Subscription.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err implements Subscription.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		h.stop()
		close(h.done)
	})
}
