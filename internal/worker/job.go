package worker

import "docdigitizer/internal/queue"

type JobType int

const (
	Process JobType = iota
	Stop
)

// Job is the unit handed from the dispatcher to a worker.
type Job struct {
	Type     JobType
	Delivery queue.Delivery
}

func (job Job) documentID() string {
	return job.Delivery.Task.DocumentID
}
