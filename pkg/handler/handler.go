package handler

import (
	"bufio"
	"errors"
	"net"
	"time"

	"gearbroker/pkg/admin"
	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/jobstore"
	"gearbroker/pkg/session"

	"github.com/hashicorp/go-hclog"
)

type route func(sess *session.Session, cmd *command.Command)

// Handler serves one connection at a time per goroutine, routing packets
// to the job store and admin lines to the admin protocol.
type Handler struct {
	store        *jobstore.Store
	admin        *admin.Admin
	log          hclog.Logger
	writeTimeout time.Duration

	fn_router map[int]route
}

func New(store *jobstore.Store, adm *admin.Admin, log hclog.Logger, writeTimeout time.Duration) *Handler {
	h := &Handler{
		store:        store,
		admin:        adm,
		log:          log,
		writeTimeout: writeTimeout,
	}

	h.fn_router = map[int]route{
		// General
		consts.ECHO_REQ:      h.EchoReq,
		consts.OPTION_REQ:    h.OptionReq,
		consts.SET_CLIENT_ID: h.SetClientID,

		// Worker
		consts.CAN_DO:          h.CanDo,
		consts.CAN_DO_TIMEOUT:  h.CanDo,
		consts.CANT_DO:         h.workerOnly(h.CanNotDo),
		consts.RESET_ABILITIES: h.workerOnly(h.ResetAbilities),
		consts.PRE_SLEEP:       h.workerOnly(h.PreSleep),
		consts.GRAB_JOB:        h.GrabJob,
		consts.GRAB_JOB_UNIQ:   h.GrabJobUniq,
		consts.GRAB_JOB_ALL:    h.GrabJobUniq,
		consts.WORK_COMPLETE:   h.workerOnly(h.WorkComplete),
		consts.WORK_FAIL:       h.workerOnly(h.WorkComplete),
		consts.WORK_EXCEPTION:  h.workerOnly(h.WorkComplete),
		consts.WORK_DATA:       h.workerOnly(h.WorkData),
		consts.WORK_WARNING:    h.workerOnly(h.WorkData),
		consts.WORK_STATUS:     h.workerOnly(h.WorkStatus),

		// Client
		consts.SUBMIT_JOB:                   h.SubmitJob,
		consts.SUBMIT_JOB_BG:                h.SubmitJob,
		consts.SUBMIT_JOB_HIGH:              h.SubmitJob,
		consts.SUBMIT_JOB_HIGH_BG:           h.SubmitJob,
		consts.SUBMIT_JOB_LOW:               h.SubmitJob,
		consts.SUBMIT_JOB_LOW_BG:            h.SubmitJob,
		consts.SUBMIT_JOB_EPOCH:             h.SubmitJob,
		consts.SUBMIT_JOB_SCHED:             h.SubmitJob,
		consts.SUBMIT_REDUCE_JOB:            h.SubmitJob,
		consts.SUBMIT_REDUCE_JOB_BACKGROUND: h.SubmitJob,
		consts.GET_STATUS:                   h.GetStatus,
	}

	return h
}

// Serve owns conn until the peer goes away or sends something that cannot
// be decoded. Lines that do not start with a NUL byte are admin commands.
func (h *Handler) Serve(conn net.Conn) {
	sess := session.New(conn, h.writeTimeout)
	defer sess.Close()
	defer h.store.ChannelDisconnected(sess)

	h.log.Trace("connection opened", "conn", sess.ID(), "addr", sess.Addr())

	r := bufio.NewReader(conn)
	for {
		first, err := r.Peek(1)
		if err != nil {
			break
		}

		if first[0] != 0 {
			line, err := r.ReadString('\n')
			if line != "" {
				h.admin.Handle(sess, line)
			}
			if err != nil {
				break
			}
			continue
		}

		cmd, err := command.Read(r)
		if err != nil {
			if !errors.Is(err, command.ErrNoMessage) {
				h.log.Warn("dropping connection", "conn", sess.ID(), "addr", sess.Addr(), "error", err)
			}
			break
		}

		h.Run(sess, cmd)
	}

	h.log.Trace("connection closed", "conn", sess.ID())
}

func (h *Handler) Run(sess *session.Session, cmd *command.Command) bool {
	fn, ok := h.fn_router[cmd.Task]
	if !ok {
		h.log.Debug("unknown packet", "conn", sess.ID(), "packet", consts.String(cmd.Task))
		sendError(sess, "unknown_command", consts.String(cmd.Task)+" is not supported")
		return false
	}

	h.log.Trace("packet", "conn", sess.ID(), "packet", cmd.String())
	fn(sess, cmd)
	return true
}

func sendError(sess *session.Session, code, text string) {
	sess.Send(command.Response(
		consts.ERROR,
		[]byte(code), consts.NULLTERM,
		[]byte(text),
	))
}

func (h *Handler) workerOnly(fn route) route {
	return func(sess *session.Session, cmd *command.Command) {
		if !sess.IsWorker() {
			sendError(sess, "not_available", "worker method requested")
			return
		}
		fn(sess, cmd)
	}
}

func (h *Handler) EchoReq(sess *session.Session, cmd *command.Command) {
	sess.Send(command.Response(consts.ECHO_RES, cmd.Data))
}

func (h *Handler) OptionReq(sess *session.Session, cmd *command.Command) {
	if !sess.SetOption(string(cmd.Data)) {
		sendError(sess, "unknown_option", string(cmd.Data))
		return
	}
	sess.Send(command.Response(consts.OPTION_RES, cmd.Data))
}

func (h *Handler) SetClientID(sess *session.Session, cmd *command.Command) {
	sess.SetClientID(string(cmd.Data))
}

func (h *Handler) CanDo(sess *session.Session, cmd *command.Command) {
	fn := cmd.ParseCanDo()
	if fn == "" {
		sendError(sess, "bad_request", "empty function name")
		return
	}

	sess.BecomeWorker()
	h.store.RegisterWorker(fn, sess)
}

func (h *Handler) CanNotDo(sess *session.Session, cmd *command.Command) {
	h.store.UnregisterWorker(string(cmd.Data), sess)
}

func (h *Handler) ResetAbilities(sess *session.Session, cmd *command.Command) {
	h.store.ResetAbilities(sess)
}

func (h *Handler) PreSleep(sess *session.Session, cmd *command.Command) {
	h.store.SleepingWorker(sess)
}

func (h *Handler) GrabJob(sess *session.Session, cmd *command.Command) {
	h.store.NextJobForWorker(sess, false)
}

func (h *Handler) GrabJobUniq(sess *session.Session, cmd *command.Command) {
	h.store.NextJobForWorker(sess, true)
}

func (h *Handler) WorkComplete(sess *session.Session, cmd *command.Command) {
	h.store.WorkComplete(cmd, sess)
}

func (h *Handler) WorkData(sess *session.Session, cmd *command.Command) {
	h.store.WorkData(cmd, sess)
}

func (h *Handler) WorkStatus(sess *session.Session, cmd *command.Command) {
	h.store.UpdateJobStatus(cmd, sess)
}

func (h *Handler) SubmitJob(sess *session.Session, cmd *command.Command) {
	sub, err := command.ParseSubmit(cmd)
	if errors.Is(err, command.ErrUnsupported) {
		sendError(sess, "not_supported", consts.String(cmd.Task))
		return
	}
	if err != nil {
		h.log.Debug("bad submission", "conn", sess.ID(), "error", err)
		sendError(sess, "bad_request", err.Error())
		return
	}

	h.store.CreateJob(sub, sess)
}

func (h *Handler) GetStatus(sess *session.Session, cmd *command.Command) {
	h.store.CheckJobStatus(string(cmd.Data), sess)
}
