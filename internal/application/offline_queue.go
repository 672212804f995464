package application

import (
	"context"
	"sync"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/metrics"
)

// offlineItem holds one request captured while the device was offline:
// everything needed to replay it once the network returns.
type offlineItem struct {
	method  string
	url     string
	body    []byte
	options requestOptions
}

// offlineQueue is a FIFO of requests awaiting replay. Items are consumed
// exactly once: removed before the replay attempt, never re-queued on
// failure, so one drain pass empties the queue.
type offlineQueue struct {
	mu    sync.Mutex
	items []offlineItem
}

func newOfflineQueue() *offlineQueue {
	return &offlineQueue{}
}

func (q *offlineQueue) push(item offlineItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// pop removes and returns the oldest item.
func (q *offlineQueue) pop() (offlineItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return offlineItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *offlineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drainOfflineQueue replays queued requests in FIFO order, one at a time,
// awaiting each before starting the next. Replay bypasses the connectivity
// check so a flapping network cannot re-queue an item; outcomes are logged
// and counted, not delivered to the original caller.
func (g *Gateway) drainOfflineQueue(ctx context.Context) {
	for {
		item, ok := g.queue.pop()
		if !ok {
			return
		}
		metrics.SetOfflineQueueDepth(g.queue.len())

		g.logger.Info(ctx, "Replaying queued offline request", "method", item.method, "url", item.url)
		_, _, err := g.executeWithRetry(ctx, item.url, item.body, item.options)
		if err != nil {
			metrics.OfflineReplaysTotal.WithLabelValues("failure").Inc()
			g.logger.Warn(ctx, "Offline request replay failed", "method", item.method, "url", item.url, "error", err.Error())
			continue
		}
		metrics.OfflineReplaysTotal.WithLabelValues("success").Inc()
		g.logger.Info(ctx, "Offline request replayed", "method", item.method, "url", item.url)
	}
}
