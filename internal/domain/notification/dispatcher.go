package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/platform/metrics"
)

// Notifier is what workflow code depends on to send notifications. Enqueue
// never blocks on delivery and never reports a delivery failure.
type Notifier interface {
	Enqueue(ctx context.Context, reqs ...Request)
}

const deliveryTimeout = 10 * time.Second

type job struct {
	reqs   []Request
	logger zerolog.Logger
}

// Dispatcher delivers queued requests on a fixed pool of workers. Requests
// enqueued together go to one NotifyMany call.
type Dispatcher struct {
	svc     *Service
	queue   chan job
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(svc *Service, queueSize, workers int, logger zerolog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		svc:    svc,
		queue:  make(chan job, queueSize),
		logger: logger.With().Str("component", "notification_dispatcher").Logger(),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// SetMetrics attaches optional metrics.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// Enqueue hands reqs to the workers. When the queue is full or the
// dispatcher is closed the requests are dropped and logged.
func (d *Dispatcher) Enqueue(ctx context.Context, reqs ...Request) {
	if len(reqs) == 0 {
		return
	}
	logger := d.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(logger, reqs, "closed")
		return
	}
	select {
	case d.queue <- job{reqs: reqs, logger: logger}:
		d.metrics.SetQueueDepth(len(d.queue))
	default:
		d.drop(logger, reqs, "queue_full")
	}
}

func (d *Dispatcher) drop(logger zerolog.Logger, reqs []Request, reason string) {
	for _, r := range reqs {
		d.metrics.IncNotificationFailure(reason)
		logger.Error().
			Str("reason", reason).
			Str("recipient", r.target()).
			Str("type", r.Type).
			Str("template", r.TemplateID).
			Msg("notification dropped")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	n, err := d.svc.NotifyMany(ctx, j.reqs)
	if err != nil {
		evt := j.logger.Error().Err(err).Int("requests", len(j.reqs)).Int("created", n)
		if len(j.reqs) > 0 && j.reqs[0].VisitID != nil {
			evt = evt.Str("visit_id", j.reqs[0].VisitID.String())
		}
		evt.Msg("notification delivery failed")
		return
	}
	j.logger.Debug().Int("requests", len(j.reqs)).Int("created", n).Msg("notifications delivered")
}

// Close stops accepting requests and waits until the queue has drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
