package chatloop

import (
	"strconv"
	"sync/atomic"
)

// firstMessageID is the value preceding the first allocated id, which is
// therefore "101".
const firstMessageID = 100

// idGenerator allocates request ids, unique within a session. Safe for
// concurrent use.
type idGenerator struct {
	n atomic.Int64
}

func newIDGenerator() *idGenerator {
	g := new(idGenerator)
	g.n.Store(firstMessageID)
	return g
}

func (g *idGenerator) Next() string {
	return strconv.FormatInt(g.n.Add(1), 10)
}
