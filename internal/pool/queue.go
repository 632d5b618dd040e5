package pool

import (
	"time"
)

// queueItem is one queued request awaiting dispatch.
type queueItem[Req, Res any] struct {
	id          string
	req         Req
	out         *Outcome[Res]
	priority    int
	hash        string
	seq         uint64
	submittedAt time.Time
}

// jobQueue is a binary heap keyed by (priority asc, seq asc): lower priority
// values dispatch first, equal priorities preserve submission order.
type jobQueue[Req, Res any] []*queueItem[Req, Res]

func (q jobQueue[Req, Res]) Len() int { return len(q) }

func (q jobQueue[Req, Res]) Less(i, j int) bool {
	if q[i].priority == q[j].priority {
		return q[i].seq < q[j].seq
	}
	return q[i].priority < q[j].priority
}

func (q jobQueue[Req, Res]) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue[Req, Res]) Push(x any) {
	*q = append(*q, x.(*queueItem[Req, Res]))
}

func (q *jobQueue[Req, Res]) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// worst returns the index of the item evicted on overflow: the numerically
// largest priority, breaking ties toward the most recent submission. This is
// the end-of-queue item under the ascending sort order.
func (q jobQueue[Req, Res]) worst() int {
	w := 0
	for i := 1; i < len(q); i++ {
		if q[i].priority > q[w].priority ||
			(q[i].priority == q[w].priority && q[i].seq > q[w].seq) {
			w = i
		}
	}
	return w
}
