package session

import (
	"net"
	"sync"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/utils"
)

// Session is one peer connection. Writes are serialized and bounded by a
// write deadline, so a stuck peer turns into a send error.
type Session struct {
	conn         net.Conn
	id           string
	writeTimeout time.Duration

	wmutex sync.Mutex

	mutex      sync.Mutex
	role       int
	clientID   string
	exceptions bool
}

func New(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		conn:         conn,
		id:           utils.NextWorkerID(),
		writeTimeout: writeTimeout,
		role:         consts.ROLE_CLIENT,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Conn() net.Conn {
	return s.conn
}

func (s *Session) Addr() string {
	if s.conn.RemoteAddr() == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session) Send(cmd *command.Command) error {
	return s.SendRaw(cmd.Bytes())
}

// SendRaw writes b as is. The admin protocol uses it for text replies.
func (s *Session) SendRaw(b []byte) error {
	s.wmutex.Lock()
	defer s.wmutex.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write(b)
	return err
}

// Write makes a Session an io.Writer for text replies.
func (s *Session) Write(b []byte) (int, error) {
	if err := s.SendRaw(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) Role() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.role
}

func (s *Session) BecomeWorker() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.role = consts.ROLE_WORKER
}

func (s *Session) IsWorker() bool {
	return s.Role() == consts.ROLE_WORKER
}

func (s *Session) ClientID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.clientID
}

func (s *Session) SetClientID(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.clientID = id
}

// SetOption applies OPTION_REQ. Only "exceptions" is known.
func (s *Session) SetOption(name string) bool {
	if name != "exceptions" {
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.exceptions = true
	return true
}

func (s *Session) Exceptions() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.exceptions
}
