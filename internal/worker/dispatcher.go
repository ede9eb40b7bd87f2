package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	ErrDispatcherBusy = errors.New("worker: dispatcher queue full")
	ErrManagerClosed  = errors.New("worker: manager closed")
)

type userQueue struct {
	jobs     []Job
	enqueued bool // is in the ready list
	running  bool // has a job on a worker
}

// Dispatcher hands jobs to workers, round robin across users and one job
// per user at a time.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	wake     chan struct{}
	quit     chan struct{}
	stopped  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	queues map[string]*userQueue // job queue for each user
	ready  *list.List            // round robin queue of dispatchable user IDs
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, manager *Manager, idleTimeout time.Duration) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:     newJobChannelPool(minWorkers, maxWorkers, idleTimeout, manager),
		jobQueue: make(chan Job, queueSize),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		queues:   make(map[string]*userQueue),
		ready:    list.New(),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking. A full queue returns
// ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrManagerClosed
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		// dispatch one job of user in the front of ready queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// Close rejects new jobs and fails the queued ones. Jobs already on a worker
// run to completion.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	d.closeMu.Unlock()

	d.pool.close()
	<-d.stopped
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			job.fail(ErrManagerClosed)
		default:
			d.mu.Lock()
			queues := d.queues
			d.queues = make(map[string]*userQueue)
			d.ready.Init()
			d.mu.Unlock()
			for _, q := range queues {
				for _, job := range q.jobs {
					job.fail(ErrManagerClosed)
				}
			}
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	userID := job.UserID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[userID]
	if q == nil {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(userID, q)
}

func (d *Dispatcher) markReadyLocked(userID string, q *userQueue) {
	if q.enqueued || q.running || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.ready.PushBack(userID)
}

// dispatchOne get first ready user and dispatch its next job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	// the user leaves the ready list until its job is done
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.fail(ErrManagerClosed)
		d.done(userID)
		return true
	}
	debugLog("assign job", "type", job.Type, "user", userID, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// done marks the user's running job finished and makes the user
// dispatchable again if it has more jobs.
func (d *Dispatcher) done(userID string) {
	d.mu.Lock()
	q := d.queues[userID]
	if q != nil {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, userID)
		} else {
			d.markReadyLocked(userID, q)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
