package utils

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var jobID atomic.Int64

var hostname = ShortHostname()

// NextHandlerID returns H:<host>:<n>. The counter restarts with the
// process, so callers must check the handle is free.
func NextHandlerID() string {
	return fmt.Sprintf("H:%s:%d", hostname, jobID.Add(1))
}

func NextWorkerID() string {
	return uuid.New().String()
}

func NextUniqueID() string {
	return uuid.New().String()
}

func ShortHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "gearbroker"
	}
	if strings.Contains(name, ".") {
		name = strings.SplitN(name, ".", 2)[0]
	}
	return name
}
