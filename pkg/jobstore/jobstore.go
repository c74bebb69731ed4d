package jobstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/fnqueue"
	"gearbroker/pkg/lock"
	"gearbroker/pkg/metrics"
	"gearbroker/pkg/models"
	"gearbroker/pkg/safemap"
	"gearbroker/pkg/storage"
	"gearbroker/pkg/utils"

	"github.com/hashicorp/go-hclog"
)

// Store is the broker. It owns every function queue, the worker
// capabilities, the job each worker is busy with and the handle index.
// Every connection goroutine calls into it directly.
type Store struct {
	engine  storage.Engine
	log     hclog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	queues  *safemap.Map[string, *fnqueue.FnQueue]
	workers *safemap.Map[models.Conn, []string]
	active  *safemap.Map[models.Conn, *models.Job]
	handles *safemap.Map[string, *models.Job]
	waiting *safemap.Map[models.Conn, map[string]struct{}]

	jobLocks   *lock.Keyed[string]
	queueLocks *lock.Keyed[string]
}

type Option func(*Store)

func WithLogger(l hclog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a store over engine. A nil engine disables persistence.
func New(engine storage.Engine, opts ...Option) *Store {
	s := &Store{
		engine:     engine,
		log:        hclog.NewNullLogger(),
		now:        time.Now,
		queues:     safemap.New[string, *fnqueue.FnQueue](),
		workers:    safemap.New[models.Conn, []string](),
		active:     safemap.New[models.Conn, *models.Job](),
		handles:    safemap.New[string, *models.Job](),
		waiting:    safemap.New[models.Conn, map[string]struct{}](),
		jobLocks:   lock.NewKeyed[string](),
		queueLocks: lock.NewKeyed[string](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	return s
}

func (s *Store) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Store) Engine() storage.Engine {
	return s.engine
}

func jobKey(fn, unique string) string {
	return fn + "\x00" + unique
}

// queue returns the queue of fn, creating it on first use.
func (s *Store) queue(fn string) *fnqueue.FnQueue {
	if q, ok := s.queues.Get(fn); ok {
		return q
	}

	s.queueLocks.Lock(fn)
	defer s.queueLocks.Unlock(fn)

	if q, ok := s.queues.Get(fn); ok {
		return q
	}
	q := fnqueue.NewFnQueue(fn)
	s.queues.Set(fn, q)
	return q
}

func (s *Store) send(conn models.Conn, cmd *command.Command) error {
	err := conn.Send(cmd)
	if err != nil {
		s.log.Debug("send failed", "conn", conn.ID(), "packet", consts.String(cmd.Task), "error", err)
	}
	return err
}

func (s *Store) capabilities(conn models.Conn) []string {
	fns, _ := s.workers.Get(conn)
	return fns
}

func (s *Store) RegisterWorker(fn string, conn models.Conn) {
	s.workers.Update(conn, func(fns []string, ok bool) ([]string, bool) {
		if !ok {
			s.metrics.Workers.Inc()
		}
		for _, f := range fns {
			if f == fn {
				return fns, true
			}
		}
		return append(append([]string(nil), fns...), fn), true
	})

	s.queue(fn).AddWorker(conn)
	s.log.Trace("worker registered", "conn", conn.ID(), "function", fn)
}

func (s *Store) UnregisterWorker(fn string, conn models.Conn) {
	s.workers.Update(conn, func(fns []string, ok bool) ([]string, bool) {
		if !ok {
			return nil, false
		}
		res := make([]string, 0, len(fns))
		for _, f := range fns {
			if f != fn {
				res = append(res, f)
			}
		}
		return res, true
	})

	if q, ok := s.queues.Get(fn); ok {
		q.RemoveWorker(conn)
	}
}

// ResetAbilities drops every function conn registered for.
func (s *Store) ResetAbilities(conn models.Conn) {
	for _, fn := range s.capabilities(conn) {
		s.UnregisterWorker(fn, conn)
	}
}

// SleepingWorker marks conn asleep on all its functions. A worker going to
// sleep while one of its queues already has ready work is woken at once,
// otherwise a submission racing the PRE_SLEEP would go unnoticed.
func (s *Store) SleepingWorker(conn models.Conn) {
	now := s.now()
	wake := false
	for _, fn := range s.capabilities(conn) {
		q := s.queue(fn)
		q.SetWorkerAsleep(conn)
		if q.HasReady(now) {
			wake = true
		}
	}

	if wake {
		s.send(conn, command.Response(consts.NOOP))
	}
}

// CreateJob resolves the submission to a job, attaching conn to an
// existing job with the same function and unique id, and acknowledges it
// with JOB_CREATED.
func (s *Store) CreateJob(sub *command.Submit, conn models.Conn) {
	q := s.queue(sub.Func)

	if sub.Unique == "" {
		for {
			sub.Unique = utils.NextUniqueID()
			if !q.UniqueInUse(sub.Unique) {
				break
			}
		}
	}

	var notify bool
	s.jobLocks.Do(jobKey(sub.Func, sub.Unique), func() {
		notify = s.createLocked(q, sub, conn)
	})

	// NOOPs go out after the key is released
	if notify {
		q.NotifyWorkers()
	}
}

// createLocked runs under the job lock of the submission and reports whether
// sleeping workers should be woken.
func (s *Store) createLocked(q *fnqueue.FnQueue, sub *command.Submit, conn models.Conn) bool {
	s.metrics.Queued.Inc()

	if job, ok := q.JobByUnique(sub.Unique); ok {
		if !sub.Background {
			s.attach(job, conn)
		}
		s.log.Trace("submission attached", "handle", job.Handle, "function", job.Func, "unique", job.Unique)
		s.send(conn, job.CreatedPacket())
		return false
	}

	job := models.NewJob("", sub)
	for {
		job.Handle = utils.NextHandlerID()
		if _, loaded := s.handles.LoadOrStore(job.Handle, job); !loaded {
			break
		}
	}
	if !sub.Background {
		s.attach(job, conn)
	}

	q.Enqueue(job)
	s.metrics.Pending.Inc()

	if job.Background {
		s.persist(job)
	}

	s.log.Trace("job created", "handle", job.Handle, "function", job.Func, "unique", job.Unique,
		"priority", job.Priority, "background", job.Background)
	s.send(conn, job.CreatedPacket())

	return job.Ready(s.now())
}

func (s *Store) attach(job *models.Job, conn models.Conn) {
	job.AddClient(conn)
	s.waiting.Update(conn, func(handles map[string]struct{}, _ bool) (map[string]struct{}, bool) {
		res := make(map[string]struct{}, len(handles)+1)
		for h := range handles {
			res[h] = struct{}{}
		}
		res[job.Handle] = struct{}{}
		return res, true
	})
}

func (s *Store) detach(conn models.Conn, handle string) {
	s.waiting.Update(conn, func(handles map[string]struct{}, ok bool) (map[string]struct{}, bool) {
		if !ok {
			return nil, false
		}
		res := make(map[string]struct{}, len(handles))
		for h := range handles {
			if h != handle {
				res[h] = struct{}{}
			}
		}
		return res, len(res) > 0
	})
}

func (s *Store) persist(job *models.Job) {
	if s.engine == nil {
		return
	}
	if err := s.engine.Write(job); err != nil {
		s.metrics.Persist.WithLabelValues("write").Inc()
		s.log.Error("persisting job failed", "handle", job.Handle, "function", job.Func, "error", err)
	}
}

// NextJobForWorker hands conn the next ready job of any function it can
// do, or answers NO_JOB. uniq selects JOB_ASSIGN_UNIQ.
func (s *Store) NextJobForWorker(conn models.Conn, uniq bool) {
	if busy, ok := s.active.Get(conn); ok {
		s.log.Warn("worker asked for a job while busy", "conn", conn.ID(), "handle", busy.Handle)
		s.send(conn, command.Response(consts.NO_JOB))
		return
	}

	now := s.now()
	var job *models.Job
	for _, fn := range s.capabilities(conn) {
		q := s.queue(fn)
		q.SetWorkerAwake(conn)
		if job == nil {
			job = q.NextJob(now)
		}
	}

	if job == nil {
		s.send(conn, command.Response(consts.NO_JOB))
		return
	}

	if err := job.Assign(conn); err != nil {
		// removed by a client disconnect between NextJob and Assign
		s.log.Debug("dispatch lost a race", "handle", job.Handle, "error", err)
		s.send(conn, command.Response(consts.NO_JOB))
		return
	}
	s.active.Set(conn, job)

	if err := conn.Send(job.AssignPacket(uniq)); err != nil {
		s.log.Warn("job assignment not delivered, re-enqueueing", "handle", job.Handle, "conn", conn.ID(), "error", err)
		s.active.Delete(conn)
		s.ReEnqueueJob(job)
		return
	}

	s.log.Trace("job assigned", "handle", job.Handle, "function", job.Func, "conn", conn.ID())
}

// ReEnqueueJob puts job back into its queue. Re-enqueueing a queued job
// changes nothing; a completed job yields *models.IllegalTransitionError
// and is left as it is.
func (s *Store) ReEnqueueJob(job *models.Job) error {
	if _, err := job.Requeue(); err != nil {
		var illegal *models.IllegalTransitionError
		if errors.As(err, &illegal) {
			s.log.Error("re-enqueue of finished job", "handle", job.Handle, "from", illegal.From, "error", err)
		}
		return err
	}

	q := s.queue(job.Func)
	if q.Enqueue(job) && job.Ready(s.now()) {
		q.NotifyWorkers()
	}
	return nil
}

type exceptionsOption interface {
	Exceptions() bool
}

func wantsExceptions(conn models.Conn) bool {
	e, ok := conn.(exceptionsOption)
	return ok && e.Exceptions()
}

// WorkComplete finishes the active job of conn with a terminal result
// (WORK_COMPLETE, WORK_FAIL or WORK_EXCEPTION) and forwards the packet to
// every waiting client. Clients that did not ask for exceptions see a
// WORK_EXCEPTION as WORK_FAIL.
func (s *Store) WorkComplete(cmd *command.Command, conn models.Conn) {
	job, ok := s.active.LoadAndDelete(conn)
	if !ok {
		s.log.Debug("result without an active job", "conn", conn.ID(), "packet", consts.String(cmd.Task))
		return
	}

	if handle, _ := cmd.ParseResult(); handle != job.Handle {
		s.log.Warn("result handle does not match the active job", "conn", conn.ID(), "handle", handle, "active", job.Handle)
	}

	s.jobLocks.Do(jobKey(job.Func, job.Unique), func() {
		res := command.Response(cmd.Task, cmd.Data)
		fail := command.Response(consts.WORK_FAIL, []byte(job.Handle))
		for _, client := range job.Clients() {
			if cmd.Task == consts.WORK_EXCEPTION && !wantsExceptions(client) {
				s.send(client, fail)
			} else {
				s.send(client, res)
			}
			s.detach(client, job.Handle)
		}

		s.RemoveJob(job)
	})

	result := "complete"
	switch cmd.Task {
	case consts.WORK_FAIL:
		result = "fail"
	case consts.WORK_EXCEPTION:
		result = "exception"
	}
	s.metrics.Completed.WithLabelValues(result).Inc()

	s.log.Trace("job finished", "handle", job.Handle, "function", job.Func, "result", result)
}

// WorkData forwards WORK_DATA and WORK_WARNING to the clients of the
// active job of conn. The job keeps running.
func (s *Store) WorkData(cmd *command.Command, conn models.Conn) {
	job, ok := s.active.Get(conn)
	if !ok {
		return
	}

	res := command.Response(cmd.Task, cmd.Data)
	for _, client := range job.Clients() {
		s.send(client, res)
	}
}

// CheckJobStatus answers STATUS_RES for handle. Live jobs are found in
// memory, others in the persistence engine. Unknown handles answer zeros.
func (s *Store) CheckJobStatus(handle string, conn models.Conn) {
	if job, ok := s.handles.Get(handle); ok {
		s.send(conn, job.StatusPacket())
		return
	}

	if s.engine != nil {
		rec, err := s.engine.FindJobByHandle(handle)
		if err == nil {
			s.send(conn, models.StatusResponse(handle, true, false, rec.Numerator, rec.Denominator))
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("status lookup failed", "handle", handle, "error", err)
		}
	}

	s.send(conn, models.StatusResponse(handle, false, false, 0, 0))
}

// UpdateJobStatus records a WORK_STATUS progress report from conn and
// forwards it to the job's clients. Reports for a job conn is not working on
// are ignored.
func (s *Store) UpdateJobStatus(cmd *command.Command, conn models.Conn) {
	handle, numerator, denominator, err := cmd.ParseWorkStatus()
	if err != nil {
		s.log.Warn("bad status update", "conn", conn.ID(), "error", err)
		return
	}

	job, ok := s.active.Get(conn)
	if !ok || job.Handle != handle {
		s.log.Warn("status update for a job the worker does not hold", "conn", conn.ID(), "handle", handle)
		return
	}
	job.SetStatus(numerator, denominator)

	res := command.Response(consts.WORK_STATUS, cmd.Data)
	for _, client := range job.Clients() {
		s.send(client, res)
	}

	if job.Background {
		s.persist(job)
	}
}

// ChannelDisconnected forgets conn as a worker and as a client. The job it
// was working on is re-enqueued or dropped depending on who still waits
// for it.
func (s *Store) ChannelDisconnected(conn models.Conn) {
	if _, ok := s.workers.LoadAndDelete(conn); ok {
		s.metrics.Workers.Dec()
	}
	s.queues.Range(func(_ string, q *fnqueue.FnQueue) bool {
		q.RemoveWorker(conn)
		return true
	})

	if job, ok := s.active.LoadAndDelete(conn); ok {
		action := job.DisconnectClient(conn)
		s.log.Debug("worker left with an active job", "conn", conn.ID(), "handle", job.Handle, "action", action)
		s.resolve(job, conn, action)
	}

	handles, _ := s.waiting.LoadAndDelete(conn)
	for handle := range handles {
		job, ok := s.handles.Get(handle)
		if !ok {
			continue
		}
		s.resolve(job, conn, job.DisconnectClient(conn))
	}
}

// resolve applies the outcome of conn leaving job.
func (s *Store) resolve(job *models.Job, conn models.Conn, action models.Action) {
	switch action {
	case models.ActionReenqueue:
		s.ReEnqueueJob(job)
	case models.ActionMarkComplete:
		s.jobLocks.Do(jobKey(job.Func, job.Unique), func() {
			// a submission may have attached while we waited for the lock
			if len(job.Clients()) > 0 {
				if job.Worker() == conn {
					s.ReEnqueueJob(job)
				}
				return
			}

			// a leaving client only discards a job still queued; once a
			// worker holds it, its result finishes the job
			if job.Worker() != conn && !job.Discard() {
				return
			}
			s.RemoveJob(job)
		})
	}
}

// RemoveJob completes job and removes it from the queue, the handle index
// and the persistence engine. Removing a job twice is harmless.
func (s *Store) RemoveJob(job *models.Job) {
	job.Complete()

	if q, ok := s.queues.Get(job.Func); ok {
		q.Remove(job)
	}

	removed := false
	s.handles.Update(job.Handle, func(cur *models.Job, ok bool) (*models.Job, bool) {
		if ok && cur == job {
			removed = true
			return nil, false
		}
		return cur, ok
	})
	if !removed {
		return
	}
	s.metrics.Pending.Dec()

	if job.Background && s.engine != nil {
		if err := s.engine.Delete(job); err != nil {
			s.metrics.Persist.WithLabelValues("delete").Inc()
			s.log.Warn("deleting persisted job failed", "handle", job.Handle, "error", err)
		}
	}
}

// LoadAllJobs queues every persisted job. Run it once before serving.
func (s *Store) LoadAllJobs() int {
	if s.engine == nil {
		return 0
	}

	records, err := s.engine.ReadAll()
	if err != nil {
		s.metrics.Persist.WithLabelValues("read").Inc()
		s.log.Error("reading persisted jobs failed", "error", err)
	}

	// engines return records in key order; queues need arrival order
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return handleLess(a.Handle, b.Handle)
	})

	loaded := 0
	for _, rec := range records {
		if rec.Func == "" {
			s.log.Warn("skipping persisted job without function", "handle", rec.Handle)
			continue
		}

		job := models.FromRecord(rec)
		q := s.queue(job.Func)
		if job.Unique == "" {
			job.Unique = utils.NextUniqueID()
		}
		if q.UniqueInUse(job.Unique) {
			s.log.Warn("skipping duplicate persisted job", "handle", rec.Handle, "function", job.Func, "unique", job.Unique)
			continue
		}

		if job.Handle == "" {
			job.Handle = utils.NextHandlerID()
		}
		if _, dup := s.handles.LoadOrStore(job.Handle, job); dup {
			s.log.Warn("skipping persisted job with a handle in use", "handle", job.Handle)
			continue
		}

		q.Enqueue(job)
		s.metrics.Pending.Inc()
		loaded++
	}

	s.log.Info("persisted jobs loaded", "count", loaded)
	return loaded
}

// handleLess orders H:host:9 before H:host:10.
func handleLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// WakeScheduled wakes sleeping workers of queues holding ready jobs every
// interval, which is how scheduled jobs reach workers once they are due.
func (s *Store) WakeScheduled(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wakeReady()
		}
	}
}

func (s *Store) wakeReady() {
	now := s.now()
	s.queues.Range(func(_ string, q *fnqueue.FnQueue) bool {
		if q.HasReady(now) {
			q.NotifyWorkers()
		}
		return true
	})
}

// Job looks up a live job by handle.
func (s *Store) Job(handle string) (*models.Job, bool) {
	return s.handles.Get(handle)
}

func (s *Store) Status() []*models.FuncStatus {
	res := []*models.FuncStatus{}
	s.queues.Range(func(fn string, q *fnqueue.FnQueue) bool {
		running := int64(q.Running())
		res = append(res, &models.FuncStatus{
			Name:       fn,
			Jobs:       int64(q.Queued()) + running,
			InProgress: running,
			Workers:    int64(q.WorkerCount()),
		})
		return true
	})

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

type describer interface {
	Addr() string
	ClientID() string
}

func (s *Store) Workers() []*models.WorkerStatus {
	res := []*models.WorkerStatus{}
	s.workers.Range(func(conn models.Conn, fns []string) bool {
		w := &models.WorkerStatus{
			ID:        conn.ID(),
			Functions: append([]string(nil), fns...),
			Sleeping:  len(fns) > 0,
		}
		sort.Strings(w.Functions)

		for _, fn := range fns {
			if q, ok := s.queues.Get(fn); ok && !q.IsSleeping(conn) {
				w.Sleeping = false
			}
		}
		if d, ok := conn.(describer); ok {
			w.Addr, w.ClientID = d.Addr(), d.ClientID()
		}
		if job, ok := s.active.Get(conn); ok {
			w.Job = job.Handle
		}

		res = append(res, w)
		return true
	})

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *Store) Close() error {
	if s.engine == nil {
		return nil
	}
	return s.engine.Close()
}
