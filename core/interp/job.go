package interp

import (
	"sync"
)

// Job is one asynchronous command list started with "&". Its runner
// executes in a separate goroutine; Wait blocks until it finishes.
type Job struct {
	ID   int
	Pid  int
	text string

	done   chan struct{}
	status Status
}

// Wait blocks until the job terminates and returns its exit status.
func (j *Job) Wait() Status {
	<-j.done
	return j.status
}

// Done is closed when the job terminates.
func (j *Job) Done() <-chan struct{} { return j.done }

// finish records the job's status and releases waiters.
func (j *Job) finish(st Status) {
	j.status = st
	close(j.done)
}

// JobTable tracks background jobs for one shell environment. Subshells
// share the table with their parent so "wait" sees jobs started before
// the fork.
type JobTable struct {
	mu      sync.Mutex
	nextID  int
	jobs    map[int]*Job
	lastPid int
}

func NewJobTable() *JobTable {
	return &JobTable{nextID: 1, jobs: make(map[int]*Job)}
}

// Add registers a new background job and returns it. The job's ID
// doubles as its process identifier reported through $!.
func (t *JobTable) Add(text string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := &Job{
		ID:   t.nextID,
		text: text,
		done: make(chan struct{}),
	}
	j.Pid = j.ID
	t.nextID++
	t.jobs[j.ID] = j
	t.lastPid = j.Pid
	return j
}

// LastPid reports the identifier of the most recently started job, for
// the $! parameter. Zero means no job has been started.
func (t *JobTable) LastPid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPid
}

// Get looks up a job by its $! identifier.
func (t *JobTable) Get(pid int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[pid]
	return j, ok
}

// WaitAll blocks until every known job has terminated. All statuses are
// discarded; "wait" with no operands reports zero.
func (t *JobTable) WaitAll() {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	t.mu.Unlock()
	for _, j := range jobs {
		j.Wait()
	}
}

// Remove forgets a terminated job so its ID is no longer waitable.
func (t *JobTable) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}
