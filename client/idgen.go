package client

import (
	"strconv"
	"sync/atomic"
)

// IDGenerator hands out request ids. Ids must never repeat while a call with the same id
// may still be pending on the same endpoint.
type IDGenerator interface {
	Next() string
}

// AtomicIDGenerator counts up from 1 and returns the decimal form. Safe for concurrent use.
type AtomicIDGenerator struct {
	last atomic.Uint64
}

func (g *AtomicIDGenerator) Next() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

// defaultIDs is shared by every Client built without WithIDGenerator, so ids stay unique
// across clients of one process.
var defaultIDs = &AtomicIDGenerator{}
