package worker

type Worker struct {
	id         int
	manager    *Manager
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, manager *Manager) *Worker {
	return &Worker{
		id:         id,
		manager:    manager,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			switch job.Type {
			case Stop:
				debugLog("worker stopped", "worker", w.id)
				return
			case Turn:
				w.manager.handleTurn(job.turn)
			case Reset:
				w.manager.handleReset(job.UserID, job.reset)
			}
			w.manager.dispatcher.done(job.UserID)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}
