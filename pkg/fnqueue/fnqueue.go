package fnqueue

import (
	"container/list"
	"sync"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/models"
)

// FnQueue holds the pending jobs of one function, ordered by priority and
// arrival, and the workers that registered for it.
//
// Jobs stay indexed by unique id from Enqueue until Remove, also while they
// are WORKING, so a resubmission can attach to a job already dispatched.
type FnQueue struct {
	Fn string

	mutex   sync.Mutex
	pending []*list.List
	queued  map[*models.Job]*list.Element
	uniques map[string]*models.Job

	// worker -> sleeping
	workers map[models.Conn]bool
}

func NewFnQueue(fn string) *FnQueue {
	f := &FnQueue{
		Fn:      fn,
		pending: make([]*list.List, len(consts.Priorities)),
		queued:  make(map[*models.Job]*list.Element),
		uniques: make(map[string]*models.Job),
		workers: make(map[models.Conn]bool),
	}
	for i := range f.pending {
		f.pending[i] = list.New()
	}

	return f
}

func (f *FnQueue) bucket(p consts.Priority) *list.List {
	if p < consts.PriorityHigh || int(p) >= len(f.pending) {
		return f.pending[consts.PriorityNormal]
	}
	return f.pending[p]
}

// Enqueue appends job behind every job of the same priority. A job that is
// already queued is not added again and Enqueue reports false.
func (f *FnQueue) Enqueue(job *models.Job) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.queued[job]; ok {
		return false
	}

	f.uniques[job.Unique] = job
	f.queued[job] = f.bucket(job.Priority).PushBack(job)
	return true
}

// NextJob pops the first job that is ready at now, scanning priorities from
// high to low. Jobs scheduled for later keep their place.
func (f *FnQueue) NextJob(now time.Time) *models.Job {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for _, l := range f.pending {
		for e := l.Front(); e != nil; e = e.Next() {
			job := e.Value.(*models.Job)
			if !job.Ready(now) {
				continue
			}
			l.Remove(e)
			delete(f.queued, job)
			return job
		}
	}

	return nil
}

func (f *FnQueue) HasReady(now time.Time) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for job := range f.queued {
		if job.Ready(now) {
			return true
		}
	}
	return false
}

// Remove forgets job entirely, queued or not.
func (f *FnQueue) Remove(job *models.Job) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if e, ok := f.queued[job]; ok {
		f.bucket(job.Priority).Remove(e)
		delete(f.queued, job)
	}
	if f.uniques[job.Unique] == job {
		delete(f.uniques, job.Unique)
	}
}

func (f *FnQueue) UniqueInUse(unique string) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, ok := f.uniques[unique]
	return ok
}

func (f *FnQueue) JobByUnique(unique string) (*models.Job, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	job, ok := f.uniques[unique]
	return job, ok
}

func (f *FnQueue) IsQueued(job *models.Job) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, ok := f.queued[job]
	return ok
}

func (f *FnQueue) Queued() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.queued)
}

func (f *FnQueue) Running() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.uniques) - len(f.queued)
}

// Jobs returns every live job, queued ones first in dispatch order.
func (f *FnQueue) Jobs() []*models.Job {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	all := make([]*models.Job, 0, len(f.uniques))
	for _, l := range f.pending {
		for e := l.Front(); e != nil; e = e.Next() {
			all = append(all, e.Value.(*models.Job))
		}
	}
	for _, job := range f.uniques {
		if _, ok := f.queued[job]; !ok {
			all = append(all, job)
		}
	}

	return all
}

func (f *FnQueue) AddWorker(conn models.Conn) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.workers[conn]; !ok {
		f.workers[conn] = false
	}
}

func (f *FnQueue) RemoveWorker(conn models.Conn) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	delete(f.workers, conn)
}

func (f *FnQueue) SetWorkerAsleep(conn models.Conn) {
	f.setSleeping(conn, true)
}

func (f *FnQueue) SetWorkerAwake(conn models.Conn) {
	f.setSleeping(conn, false)
}

func (f *FnQueue) setSleeping(conn models.Conn, sleeping bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.workers[conn]; ok {
		f.workers[conn] = sleeping
	}
}

func (f *FnQueue) IsSleeping(conn models.Conn) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.workers[conn]
}

func (f *FnQueue) Workers() []models.Conn {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	res := make([]models.Conn, 0, len(f.workers))
	for conn := range f.workers {
		res = append(res, conn)
	}
	return res
}

func (f *FnQueue) WorkerCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.workers)
}

// NotifyWorkers sends NOOP to every sleeping worker and returns how many
// were woken. Workers stay marked asleep until they grab a job.
func (f *FnQueue) NotifyWorkers() int {
	f.mutex.Lock()
	sleeping := []models.Conn{}
	for conn, asleep := range f.workers {
		if asleep {
			sleeping = append(sleeping, conn)
		}
	}
	f.mutex.Unlock()

	woken := 0
	for _, conn := range sleeping {
		if err := conn.Send(command.Response(consts.NOOP)); err == nil {
			woken++
		}
	}

	return woken
}
