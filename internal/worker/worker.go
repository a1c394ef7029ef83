package worker

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
	handle     func(Job)
}

func NewWorker(pool *jobChannelPool, handle func(Job)) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
		handle:     handle,
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.handle(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}
