package index

import (
	"fmt"
	"time"
)

// JobState is a step in the lifecycle of an indexing job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateReading   JobState = "reading"
	StateChunking  JobState = "chunking"
	StateEmbedding JobState = "embedding"
	StateWriting   JobState = "writing"
	StateDone      JobState = "done"
	StateFailed    JobState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next holds the single forward step from each non-terminal state.
// StateFailed is reachable from every non-terminal state.
var next = map[JobState]JobState{
	StatePending:   StateReading,
	StateReading:   StateChunking,
	StateChunking:  StateEmbedding,
	StateEmbedding: StateWriting,
	StateWriting:   StateDone,
}

// Transition is reported through Options.OnTransition.
type Transition struct {
	JobID uint64    `json:"job_id"`
	Path  string    `json:"path"`
	From  JobState  `json:"from"`
	To    JobState  `json:"to"`
	Err   error     `json:"-"`
	At    time.Time `json:"at"`
}

// Job is the ephemeral unit of work "(re)index this document".
// It is owned by a single worker and is never shared.
type Job struct {
	ID          uint64
	Path        string
	Fingerprint string
	State       JobState
	Err         error
	Started     time.Time

	// Size and ModTime of the file at discovery.
	Size    int64
	ModTime time.Time

	// Chunks written on success.
	Chunks int

	notify func(Transition)
}

func newJob(id uint64, path, fingerprint string, notify func(Transition)) *Job {
	return &Job{
		ID:          id,
		Path:        path,
		Fingerprint: fingerprint,
		State:       StatePending,
		Started:     time.Now(),
		notify:      notify,
	}
}

// advance moves the job to the given state. Only the forward step or a
// move to StateFailed is legal.
func (j *Job) advance(to JobState, err error) error {
	from := j.State
	if from.Terminal() {
		return fmt.Errorf("job %d: transition from terminal state %s", j.ID, from)
	}
	if to != StateFailed && next[from] != to {
		return fmt.Errorf("job %d: illegal transition %s -> %s", j.ID, from, to)
	}

	j.State = to
	if to == StateFailed {
		j.Err = err
	}
	if j.notify != nil {
		j.notify(Transition{JobID: j.ID, Path: j.Path, From: from, To: to, Err: err, At: time.Now()})
	}
	return nil
}

// fail moves the job to StateFailed and returns err.
func (j *Job) fail(err error) error {
	_ = j.advance(StateFailed, err)
	return err
}
