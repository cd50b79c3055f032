package client

import (
	"sync"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// pending tracks calls waiting for their reply on a multiplexed connection.
type pending struct {
	mu    sync.Mutex
	calls map[int64]chan protocol.Response
	err   error
}

func newPending() *pending {
	return &pending{calls: make(map[int64]chan protocol.Response)}
}

// add registers id and returns the channel its reply is delivered on.
func (p *pending) add(id int64) (<-chan protocol.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan protocol.Response, 1)
	p.calls[id] = ch
	return ch, nil
}

func (p *pending) remove(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls, id)
}

// deliver hands resp to the waiting call. It reports false for replies
// nobody is waiting for.
func (p *pending) deliver(resp protocol.Response) bool {
	id, ok := resp.ResponseID().Value()
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.calls[id]
	if !ok {
		return false
	}
	delete(p.calls, id)
	ch <- resp
	return true
}

// fail rejects new calls with err and wakes every waiting call.
func (p *pending) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err == nil {
		p.err = err
	}
	for id, ch := range p.calls {
		close(ch)
		delete(p.calls, id)
	}
}

// failure returns the error recorded by fail.
func (p *pending) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return ErrClosed
	}
	return p.err
}
