// Package protocol implements the loopback status protocol spoken by the
// test runner: one TCP connection per log channel, newline-terminated
// lines, the first line naming the channel.
package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
)

const (
	// MaxLineSize bounds one protocol line. Longer lines are cut and the
	// connection keeps reading.
	MaxLineSize = 64 * 1024

	// eventBuffer lets connection goroutines run ahead of the session loop.
	eventBuffer = 1024

	loopback = "127.0.0.1"
)

// ErrNoPort is returned when no port in the scan range could be bound.
var ErrNoPort = errors.New("could not find a listen port")

// EventKind tells what happened on a connection.
type EventKind int

const (
	EventConnect EventKind = iota
	EventLine
	EventDisconnect
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventLine:
		return "line"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one connection-level occurrence, delivered in order per
// connection.
type Event struct {
	Conn uint64
	Kind EventKind
	Line string

	// Truncated is set on a line that was cut at the line size limit.
	Truncated bool
}

// Server accepts runner connections and turns their traffic into events.
// Connection goroutines only read and forward; every event is consumed by
// a single goroutine through Events.
type Server struct {
	listener net.Listener
	port     int
	logger   *slog.Logger
	events   chan Event

	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]net.Conn

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	linesRead atomic.Int64
}

// Listen binds a loopback port. Port 0 lets the kernel choose; otherwise
// ports are tried upward from port, maxScan of them at most.
func Listen(port, maxScan int, logger *slog.Logger) (*Server, error) {
	ln, bound, err := bind(port, maxScan)
	if err != nil {
		return nil, err
	}
	logger.Info("status_server_listening", "address", ln.Addr().String())

	return &Server{
		listener: ln,
		port:     bound,
		logger:   logger,
		events:   make(chan Event, eventBuffer),
		conns:    make(map[uint64]net.Conn),
		done:     make(chan struct{}),
	}, nil
}

func bind(port, maxScan int) (net.Listener, int, error) {
	if port == 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(loopback, "0"))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrNoPort, err)
		}
		return ln, ln.Addr().(*net.TCPAddr).Port, nil
	}

	if maxScan < 1 {
		maxScan = 1
	}
	var lastErr error
	for p := port; p < port+maxScan && p <= 65535; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(loopback, strconv.Itoa(p)))
		if err == nil {
			return ln, p, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("%w (from %d, %d tried): %v", ErrNoPort, port, maxScan, lastErr)
}

// Port returns the bound port.
func (s *Server) Port() int { return s.port }

// Events returns the event stream. It is never closed; stop reading after
// Close.
func (s *Server) Events() <-chan Event { return s.events }

// LinesRead returns the number of lines received on all connections.
func (s *Server) LinesRead() int64 { return s.linesRead.Load() }

// Serve accepts connections until Close. Run it in a goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("status_server_accept_failed", "error", err)
			}
			return
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetNoDelay(true)
		}

		id := s.nextID.Add(1)
		s.mu.Lock()
		s.conns[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(id, conn)
	}
}

func (s *Server) handle(id uint64, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.send(Event{Conn: id, Kind: EventDisconnect})
	}()

	s.logger.Debug("status_connection_accepted", "conn", id, "remote", conn.RemoteAddr().String())
	if !s.send(Event{Conn: id, Kind: EventConnect}) {
		return
	}

	err := logging.ReadLines(conn, MaxLineSize, func(line string, truncated bool) bool {
		s.linesRead.Add(1)
		if truncated {
			s.logger.Warn("status_line_truncated", "conn", id, "limit", MaxLineSize)
		}
		return s.send(Event{Conn: id, Kind: EventLine, Line: trimCR(line), Truncated: truncated})
	})
	if err != nil {
		s.logger.Debug("status_connection_read_error", "conn", id, "error", err)
	}
}

// send blocks until the event is queued; lines are never dropped. It gives
// up only when the server is closed.
func (s *Server) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, closes open connections and waits for their
// goroutines. Safe to call multiple times.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()

		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Debug("status_server_closed", "lines_read", s.linesRead.Load())
	})
	return err
}

func trimCR(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
