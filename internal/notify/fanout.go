package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Destination delivers a message to one channel.
type Destination interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Fanout sends every message to all destinations, at most maxConcurrent at
// a time. A failing destination never stops the others.
type Fanout struct {
	destinations []Destination
	sem          *semaphore.Weighted
	logger       *zap.Logger
}

func NewFanout(logger *zap.Logger, maxConcurrent int64, destinations ...Destination) *Fanout {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Fanout{
		destinations: destinations,
		sem:          semaphore.NewWeighted(maxConcurrent),
		logger:       logger,
	}
}

func (f *Fanout) Destinations() int {
	return len(f.destinations)
}

func (f *Fanout) Notify(ctx context.Context, msg Message) DeliveryResult {
	result := DeliveryResult{Failed: make(map[string]error)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, dest := range f.destinations {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed[dest.Name()] = err
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(d Destination) {
			defer wg.Done()
			defer f.sem.Release(1)

			err := d.Send(ctx, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[d.Name()] = err
				f.logger.Warn("Notification delivery failed",
					zap.String("destination", d.Name()),
					zap.String("event_id", msg.EventID),
					zap.Error(err))
				return
			}
			result.Delivered = append(result.Delivered, d.Name())
		}(dest)
	}
	wg.Wait()
	return result
}
