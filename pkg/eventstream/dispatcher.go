package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/chat"
)

var (
	defaultNumWorkers   uint = 2
	defaultQueueSize    uint = 256
	defaultPublishLimit      = 10 * time.Second
)

// DispatcherConfig configures the async dispatcher.
type DispatcherConfig struct {
	// Publisher receives the events. Required.
	Publisher Publisher

	// NumWorkers is the number of background workers (defaults to 2).
	NumWorkers uint

	// QueueSize is the capacity of the buffered event channel
	// (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger. Required.
	Logger *zap.Logger
}

// Dispatcher fans appended turns out to the publisher asynchronously
// so publishing latency never sits on the relay's request path. A full
// queue drops the event with an error log rather than blocking.
type Dispatcher struct {
	config DispatcherConfig
	queue  chan TurnAppendedEvent
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.NumWorkers == 0 {
		config.NumWorkers = defaultNumWorkers
	}
	if config.QueueSize == 0 {
		config.QueueSize = defaultQueueSize
	}

	d := &Dispatcher{
		config: config,
		queue:  make(chan TurnAppendedEvent, config.QueueSize),
		logger: config.Logger,
	}

	d.wg.Add(int(config.NumWorkers))
	for i := uint(0); i < config.NumWorkers; i++ {
		go d.worker(i)
	}

	return d
}

// EnqueueTurns wraps each turn in a TurnAppendedEvent and enqueues it.
// Returns the number of events accepted.
func (d *Dispatcher) EnqueueTurns(turns ...chat.Turn) int {
	accepted := 0
	for _, turn := range turns {
		event := TurnAppendedEvent{
			SchemaVersion: SchemaVersionV1,
			EventType:     EventTypeTurnAppended,
			EventID:       uuid.NewString(),
			EmittedAt:     time.Now().UTC(),
			Turn:          turn,
		}

		select {
		case d.queue <- event:
			accepted++
		default:
			d.logger.Error("turn event dropped, queue full",
				zap.String("turn_id", turn.ID),
			)
		}
	}

	return accepted
}

// Close stops accepting events, waits for in-flight publishes to drain
// and closes the publisher. Call during graceful shutdown after the
// HTTP server has stopped.
func (d *Dispatcher) Close() error {
	close(d.queue)
	d.wg.Wait()
	return d.config.Publisher.Close()
}

func (d *Dispatcher) worker(id uint) {
	defer d.wg.Done()
	d.logger.Debug("eventstream worker started", zap.Uint("worker_id", id))

	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishLimit)
		if err := d.config.Publisher.PublishTurn(ctx, &event); err != nil {
			d.logger.Error("publishing turn event failed",
				zap.String("turn_id", event.Turn.ID),
				zap.Error(err),
			)
		}
		cancel()
	}

	d.logger.Debug("eventstream worker stopped", zap.Uint("worker_id", id))
}
