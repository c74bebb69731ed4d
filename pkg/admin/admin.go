package admin

import (
	"fmt"
	"io"
	"strings"

	"gearbroker/pkg/consts"
	"gearbroker/pkg/jobstore"
)

// Admin answers the gearmand text protocol: one command per line, replies
// terminated by a lone ".".
type Admin struct {
	store    *jobstore.Store
	shutdown func()
}

func New(store *jobstore.Store, shutdown func()) *Admin {
	return &Admin{
		store:    store,
		shutdown: shutdown,
	}
}

func (a *Admin) Status(w io.Writer) {
	for _, fn := range a.store.Status() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", fn.Name, fn.Jobs, fn.InProgress, fn.Workers)
	}
	io.WriteString(w, ".\n")
}

func (a *Admin) Workers(w io.Writer) {
	for _, wrk := range a.store.Workers() {
		client_id := wrk.ClientID
		if client_id == "" {
			client_id = "-"
		}
		fmt.Fprintf(w, "%s %s %s : %s\n", wrk.ID, wrk.Addr, client_id, strings.Join(wrk.Functions, " "))
	}
	io.WriteString(w, ".\n")
}

func (a *Admin) Version(w io.Writer) {
	io.WriteString(w, "OK gearbroker "+consts.VERSION+"\n")
}

func (a *Admin) Shutdown(w io.Writer) {
	io.WriteString(w, "OK\n")
	if a.shutdown != nil {
		a.shutdown()
	}
}

// Handle runs one admin line and reports whether the command was known.
// Unknown commands still get an error line.
func (a *Admin) Handle(w io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "status":
		a.Status(w)
	case "workers":
		a.Workers(w)
	case "version":
		a.Version(w)
	case "shutdown":
		a.Shutdown(w)
	default:
		io.WriteString(w, "ERR UNKNOWN_COMMAND Unknown+server+command\n")
		return false
	}

	return true
}
