package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cuemby/burrow/pkg/fileio"
	"github.com/cuemby/burrow/pkg/log"
)

// Priority orders job buckets; Top runs before High before Normal before
// Low. None is only used on the notification path.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityTop
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityTop:
		return "top"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "none"
	}
}

// Job is one unit of work for the pool. It carries either a bare
// callable, a callable over its payload bytes, or a callable that also
// receives the pool so it can enqueue follow-up work. A job whose payload
// has been spilled to disk reloads it just before running.
type Job struct {
	priority Priority
	data     []byte

	fn     func() error
	dataFn func(data []byte) error
	poolFn func(pool *Pool, data []byte) error

	pool      *Pool
	spillPath string
}

// NewJob creates a job around a bare callable.
func NewJob(priority Priority, fn func() error) *Job {
	return &Job{priority: priority, fn: fn}
}

// NewDataJob creates a job whose callable receives the payload bytes.
func NewDataJob(priority Priority, data []byte, fn func(data []byte) error) *Job {
	return &Job{priority: priority, data: data, dataFn: fn}
}

// NewPoolJob creates a job whose callable receives the pool and the
// payload, for work that pushes follow-up jobs.
func NewPoolJob(priority Priority, data []byte, fn func(pool *Pool, data []byte) error) *Job {
	return &Job{priority: priority, data: data, poolFn: fn}
}

// Priority returns the job's bucket.
func (j *Job) Priority() Priority { return j.priority }

// Data returns the payload bytes currently held in memory.
func (j *Job) Data() []byte { return j.data }

// Spill writes the payload to a content-addressed file under dir and
// releases the in-memory copy. Purely an execution hint; Work reloads the
// payload before running.
func (j *Job) Spill(dir string) error {
	if len(j.data) == 0 || j.spillPath != "" {
		return nil
	}
	sum := sha256.Sum256(j.data)
	path := filepath.Join(dir, strconv.Itoa(int(j.priority)), hex.EncodeToString(sum[:])+".job")
	if err := fileio.Save(path, j.data); err != nil {
		return fmt.Errorf("spill job: %w", err)
	}
	j.spillPath = path
	j.data = nil
	return nil
}

// Work loads any spilled payload, runs the callable, and removes the spill
// file. A panic in the callable is recovered and reported as failure; the
// worker carries on with the next job.
func (j *Job) Work(worker Priority) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler failure: job panicked: %v", r)
			log.Logger.Error().
				Str("priority", j.priority.String()).
				Str("worker", worker.String()).
				Interface("panic", r).
				Msg("job panicked")
		}
	}()

	if err := j.load(); err != nil {
		return err
	}

	switch {
	case j.fn != nil:
		err = j.fn()
	case j.dataFn != nil:
		err = j.dataFn(j.data)
	case j.poolFn != nil:
		err = j.poolFn(j.pool, j.data)
	default:
		err = fmt.Errorf("invalid argument: job has no callable")
	}

	j.removeSpill()
	return err
}

func (j *Job) load() error {
	if j.spillPath == "" {
		return nil
	}
	data, err := fileio.Load(j.spillPath)
	if err != nil {
		return fmt.Errorf("load spilled job: %w", err)
	}
	j.data = data
	return nil
}

func (j *Job) removeSpill() {
	if j.spillPath == "" {
		return
	}
	if err := fileio.Remove(j.spillPath); err != nil {
		log.Logger.Warn().Err(err).Str("path", j.spillPath).Msg("failed to remove spill file")
	}
	j.spillPath = ""
}
