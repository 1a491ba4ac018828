package rpc

import (
	"sort"
	"strconv"
	"sync"
)

// Outcome completes a pending call: a response or the error that abandoned it.
type Outcome struct {
	Response *Message
	Err      error
}

// Pending correlates outbound requests with their responses by id.
type Pending struct {
	prefix string
	mu     sync.Mutex
	next   int
	calls  map[string]chan Outcome
}

// NewPending creates a table whose ids are "<prefix>:<n>".
func NewPending(prefix string) *Pending {
	return &Pending{prefix: prefix, calls: make(map[string]chan Outcome)}
}

// Register allocates an id and the channel its outcome will be delivered on.
func (p *Pending) Register() (string, <-chan Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.prefix + ":" + strconv.Itoa(p.next)
	ch := make(chan Outcome, 1)
	p.calls[id] = ch
	return id, ch
}

// Complete delivers response to its caller; it reports false for unknown ids.
func (p *Pending) Complete(response *Message) bool {
	p.mu.Lock()
	ch, ok := p.calls[response.ID]
	delete(p.calls, response.ID)
	p.mu.Unlock()
	if ok {
		ch <- Outcome{Response: response}
	}
	return ok
}

// Cancel forgets id without completing it.
func (p *Pending) Cancel(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// RejectAll fails every pending call with err.
func (p *Pending) RejectAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]chan Outcome)
	p.mu.Unlock()
	for _, ch := range calls {
		ch <- Outcome{Err: err}
	}
}

// IDs returns the pending ids, sorted.
func (p *Pending) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([]string, 0, len(p.calls))
	for id := range p.calls {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}
