package worker

import (
	"context"

	"funchatgo/internal/models"
)

type JobType int

const (
	Turn JobType = iota
	Reset
	Stop
)

func (t JobType) String() string {
	switch t {
	case Turn:
		return "turn"
	case Reset:
		return "reset"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is one unit of work for a user. Jobs of the same user never run
// concurrently.
type Job struct {
	Type   JobType
	UserID string

	turn  *turnTask
	reset *resetTask
}

// TurnRequest asks for one conversation turn against the user's history.
type TurnRequest struct {
	Context context.Context
	UserID  string
	Input   string
	// ChunkFn receives each output delta. Returning an error stops the turn.
	ChunkFn func(models.Delta) error
}

// TurnResult is what one turn produced.
type TurnResult struct {
	Content  string
	Messages []models.Message
}

type turnTask struct {
	req      TurnRequest
	resultCh chan workerReturn
}

type resetTask struct {
	publish bool
	doneCh  chan error
}

type workerReturn struct {
	result *TurnResult
	err    error
}

// fail completes the job's waiter without running it.
func (job Job) fail(err error) {
	switch {
	case job.turn != nil:
		job.turn.resultCh <- workerReturn{err: err}
	case job.reset != nil:
		job.reset.doneCh <- err
	}
}
