package chatloop

import (
	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/joeycumines/logiface"
)

// pendingRequest is an outstanding request awaiting its reply. The resp and
// err fields are written on the loop before signal is raised, and must only
// be read after signal is done.
type pendingRequest struct {
	signal *Signal
	resp   *pbx.ServerMsg
	err    error
	id     string
}

// correlationTable maps request ids to their pending entries. Loop-owned.
type correlationTable struct {
	logger  *logiface.Logger[logiface.Event]
	pending map[string]*pendingRequest
}

func newCorrelationTable(logger *logiface.Logger[logiface.Event]) *correlationTable {
	return &correlationTable{
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// register adds p, reporting false if its id is already pending.
func (x *correlationTable) register(p *pendingRequest) bool {
	if _, ok := x.pending[p.id]; ok {
		return false
	}
	x.pending[p.id] = p
	return true
}

// resolve completes the entry for id with msg, exactly once. Replies with no
// pending entry, including duplicates, are dropped.
func (x *correlationTable) resolve(id string, msg *pbx.ServerMsg) bool {
	p, ok := x.pending[id]
	if !ok {
		x.logger.Warning().
			Str(`id`, id).
			Str(`kind`, msg.Kind()).
			Log(`chatloop: dropped reply with no pending request`)
		return false
	}
	delete(x.pending, id)
	p.resp = msg
	p.signal.fire()
	return true
}

// remove discards the entry for id, e.g. when its caller gave up.
func (x *correlationTable) remove(id string) {
	delete(x.pending, id)
}

// failAll completes every pending entry with err.
func (x *correlationTable) failAll(err error) {
	for id, p := range x.pending {
		delete(x.pending, id)
		p.err = err
		p.signal.fire()
	}
}

func (x *correlationTable) len() int {
	return len(x.pending)
}
