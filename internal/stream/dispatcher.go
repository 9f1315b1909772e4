// Package stream provides subscription management and live tick distribution.
package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// DispatcherConfig holds configuration for the Dispatcher.
type DispatcherConfig struct {
	// BufferSize is the size of the internal tick queue. Publish blocks while it is full.
	BufferSize int
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize: 256,
	}
}

// Consumer applies a tick to one piece of view state.
type Consumer interface {
	ApplyTick(tick models.PriceTick)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(tick models.PriceTick)

// ApplyTick implements Consumer.
func (f ConsumerFunc) ApplyTick(tick models.PriceTick) {
	f(tick)
}

// Dispatcher delivers ticks from the push channel to every consumer.
// A single goroutine drains the queue and calls consumers synchronously in
// registration order, so one tick is fully applied before the next starts.
type Dispatcher struct {
	config    DispatcherConfig
	logger    zerolog.Logger
	mu        sync.RWMutex
	consumers []Consumer
	tickChan  chan models.PriceTick
	done      chan struct{}
	finished  chan struct{}
	started   bool

	// Metrics
	ticksReceived   uint64
	ticksDispatched uint64
	ticksDropped    uint64
	metricsMu       sync.RWMutex
}

// DispatcherMetrics contains dispatcher counters.
type DispatcherMetrics struct {
	TicksReceived   uint64
	TicksDispatched uint64
	TicksDropped    uint64
	Consumers       int
}

// NewDispatcher creates a dispatcher with default configuration.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return NewDispatcherWithConfig(DefaultDispatcherConfig(), logger)
}

// NewDispatcherWithConfig creates a dispatcher with custom configuration.
func NewDispatcherWithConfig(config DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	return &Dispatcher{
		config: config,
		logger: logging.WithComponent(logger, "dispatcher"),
	}
}

// RegisterConsumer appends a consumer. Delivery order is registration order.
func (d *Dispatcher) RegisterConsumer(consumer Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, consumer)
}

// Start begins the delivery loop. It can be called again after Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	d.tickChan = make(chan models.PriceTick, d.config.BufferSize)
	d.done = make(chan struct{})
	d.finished = make(chan struct{})
	d.started = true

	go d.deliveryLoop(ctx, d.tickChan, d.done, d.finished)

	d.logger.Debug().Int("consumers", len(d.consumers)).Msg("Dispatcher started")
	return nil
}

// Stop ends the delivery loop and waits for the tick in progress to finish.
// Queued ticks are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.done)
	finished := d.finished
	d.mu.Unlock()

	<-finished
	d.logger.Debug().Msg("Dispatcher stopped")
}

// Publish queues a tick, blocking while the queue is full.
// It returns false when the dispatcher is not running and the tick was dropped.
func (d *Dispatcher) Publish(tick models.PriceTick) bool {
	d.mu.RLock()
	if !d.started {
		d.mu.RUnlock()
		d.countDropped()
		return false
	}
	tickChan, done, finished := d.tickChan, d.done, d.finished
	d.mu.RUnlock()

	select {
	case tickChan <- tick:
		d.metricsMu.Lock()
		d.ticksReceived++
		d.metricsMu.Unlock()
		return true
	case <-done:
		d.countDropped()
		return false
	case <-finished:
		d.countDropped()
		return false
	}
}

func (d *Dispatcher) deliveryLoop(ctx context.Context, tickChan chan models.PriceTick, done, finished chan struct{}) {
	defer close(finished)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case tick := <-tickChan:
			d.dispatch(tick)
		}
	}
}

func (d *Dispatcher) dispatch(tick models.PriceTick) {
	d.mu.RLock()
	consumers := make([]Consumer, len(d.consumers))
	copy(consumers, d.consumers)
	d.mu.RUnlock()

	for _, consumer := range consumers {
		consumer.ApplyTick(tick)
	}

	d.metricsMu.Lock()
	d.ticksDispatched++
	d.metricsMu.Unlock()
}

func (d *Dispatcher) countDropped() {
	d.metricsMu.Lock()
	d.ticksDropped++
	d.metricsMu.Unlock()
}

// GetMetrics returns dispatcher metrics.
func (d *Dispatcher) GetMetrics() DispatcherMetrics {
	d.mu.RLock()
	consumers := len(d.consumers)
	d.mu.RUnlock()

	d.metricsMu.RLock()
	defer d.metricsMu.RUnlock()

	return DispatcherMetrics{
		TicksReceived:   d.ticksReceived,
		TicksDispatched: d.ticksDispatched,
		TicksDropped:    d.ticksDropped,
		Consumers:       consumers,
	}
}

// IsStarted returns whether the delivery loop is running.
func (d *Dispatcher) IsStarted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}
