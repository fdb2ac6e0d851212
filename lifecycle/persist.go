package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// RecordSink stores finalized identity records, keyed by uuid
type RecordSink interface {
	Persist(ctx context.Context, record *Record) error
}

// RecordSinkFunc adapts function to RecordSink
type RecordSinkFunc func(ctx context.Context, record *Record) error

func (f RecordSinkFunc) Persist(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

// persister hands records to the sink from a single goroutine.
// Failures are logged and counted, never retried.
type persister struct {
	sink    RecordSink
	queue   chan *Record
	timeout time.Duration
	log     logrus.FieldLogger
	wg      sync.WaitGroup

	persisted atomic.Int64
	failures  atomic.Int64
	dropped   atomic.Int64
	closeOnce sync.Once
}

func newPersister(sink RecordSink, queueSize int, timeout time.Duration, log logrus.FieldLogger) *persister {
	p := &persister{
		sink:    sink,
		queue:   make(chan *Record, queueSize),
		timeout: timeout,
		log:     log,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *persister) run() {
	defer p.wg.Done()
	for record := range p.queue {
		p.persist(record)
	}
}

func (p *persister) persist(record *Record) {
	if p.sink == nil {
		p.log.WithFields(logrus.Fields{"uuid": record.UUID, "status": record.Status}).Debug("No sink configured, record dropped")
		return
	}
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sink.Persist(ctx, record); err != nil {
		p.failures.Add(1)
		p.log.WithError(err).WithField("uuid", record.UUID).Error("Can't persist identity record")
		return
	}
	p.persisted.Add(1)
}

// tryEnqueue never blocks. Record is dropped and counted as failure when the queue is full.
func (p *persister) tryEnqueue(record *Record) bool {
	select {
	case p.queue <- record:
		return true
	default:
		p.failures.Add(1)
		p.dropped.Add(1)
		p.log.WithFields(logrus.Fields{"uuid": record.UUID, "status": record.Status}).Error("Persist queue is full, identity record dropped")
		return false
	}
}

// enqueue blocks while the queue is full
func (p *persister) enqueue(ctx context.Context, record *Record) {
	select {
	case p.queue <- record:
	case <-ctx.Done():
		p.failures.Add(1)
		p.log.WithError(ctx.Err()).WithField("uuid", record.UUID).Error("Identity record dropped")
	}
}

func (p *persister) close() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}
