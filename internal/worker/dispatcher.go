package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	TaskTimeout       time.Duration
}

type docQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pooled workers. Jobs of one document run one at a
// time in submission order; different documents rotate through an LRU list
// and run in parallel.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // entry point for outer jobs
	handle   func(Job)

	mu        sync.Mutex
	queues    map[string]*docQueue // pending jobs per document
	ready     *list.List           // LRU queue of document IDs
	positions map[string]*list.Element
	running   map[string]bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
	once     sync.Once
}

func NewDispatcher(cfg DispatcherConfig, handle func(Job)) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	d := &Dispatcher{
		JobQueue:  make(chan Job, queueSize),
		queues:    make(map[string]*docQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		running:   make(map[string]bool),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	d.handle = handle
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d.execute)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit blocks until the job is accepted, ctx is done or the dispatcher closes.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	select {
	case <-d.quit:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	case <-d.quit:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	docID := job.documentID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[docID]
	if q == nil {
		q = &docQueue{}
		d.queues[docID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[docID] = d.ready.PushBack(docID)
}

// dispatchOne sends the next job of the least recently served document that
// has no job running.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	var (
		job   Job
		found bool
	)
	for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
		docID := elem.Value.(string)
		if d.running[docID] {
			continue
		}
		q := d.queues[docID]
		job = q.jobs[0]
		q.jobs = q.jobs[1:]
		if len(q.jobs) == 0 {
			q.enqueued = false
			d.ready.Remove(elem)
			delete(d.positions, docID)
			delete(d.queues, docID)
		} else {
			d.ready.MoveToBack(elem)
		}
		d.running[docID] = true
		found = true
		break
	}
	if found {
		d.inflight.Add(1)
	}
	d.mu.Unlock()
	if !found {
		return false
	}

	workerChan := d.pool.acquire()
	workerChan <- job
	return true
}

func (d *Dispatcher) execute(job Job) {
	defer d.finish(job.documentID())
	d.handle(job)
}

func (d *Dispatcher) finish(docID string) {
	d.mu.Lock()
	delete(d.running, docID)
	_, pending := d.queues[docID]
	d.mu.Unlock()
	d.inflight.Done()
	if pending {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of accepted jobs not yet handed to a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.JobQueue)
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n
}

// Close stops dispatching, waits for running jobs and retires the workers.
// Jobs still queued are dropped; their deliveries stay unacknowledged.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
		<-d.done
		d.inflight.Wait()
		d.pool.close()
	})
}
