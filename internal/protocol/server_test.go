package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
)

func startServer(t *testing.T, port, scan int) *Server {
	t.Helper()
	s, err := Listen(port, scan, logging.Discard())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func nextEvent(t *testing.T, s *Server) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event within timeout")
		return Event{}
	}
}

func TestServer_DeliversLinesInOrder(t *testing.T) {
	s := startServer(t, 0, 0)
	if s.Port() == 0 {
		t.Fatal("port 0 should resolve to a kernel-assigned port")
	}

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	if err != nil {
		t.Fatal(err)
	}
	lines := []string{"ServerStatusLog", "INIT", "CASE:S-1", "STATUS:SUCCEED(S-1)"}
	for _, l := range lines {
		fmt.Fprintf(conn, "%s\r\n", l)
	}

	if ev := nextEvent(t, s); ev.Kind != EventConnect {
		t.Fatalf("first event = %v, want connect", ev.Kind)
	}
	var id uint64
	for i, want := range lines {
		ev := nextEvent(t, s)
		if ev.Kind != EventLine || ev.Line != want {
			t.Fatalf("event %d = %+v, want line %q", i, ev, want)
		}
		if id == 0 {
			id = ev.Conn
		} else if ev.Conn != id {
			t.Errorf("connection id changed: %d != %d", ev.Conn, id)
		}
	}

	conn.Close()
	if ev := nextEvent(t, s); ev.Kind != EventDisconnect || ev.Conn != id {
		t.Errorf("expected disconnect of %d, got %+v", id, ev)
	}
	if s.LinesRead() != int64(len(lines)) {
		t.Errorf("LinesRead = %d", s.LinesRead())
	}
}

func TestServer_NoLinesDroppedUnderBackpressure(t *testing.T) {
	s := startServer(t, 0, 0)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	const n = eventBuffer * 3
	go func() {
		for i := 0; i < n; i++ {
			fmt.Fprintf(conn, "line-%d\n", i)
		}
	}()

	nextEvent(t, s) // connect
	for i := 0; i < n; i++ {
		ev := nextEvent(t, s)
		if ev.Line != "line-"+strconv.Itoa(i) {
			t.Fatalf("event %d = %q", i, ev.Line)
		}
	}
}

func TestServer_LongLineIsTruncatedAndConnectionStaysOpen(t *testing.T) {
	s := startServer(t, 0, 0)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	go fmt.Fprintf(conn, "VerboseLog\n%s\nafter-long-line\n", strings.Repeat("x", 70000))

	nextEvent(t, s) // connect
	if ev := nextEvent(t, s); ev.Line != "VerboseLog" || ev.Truncated {
		t.Fatalf("name event = %+v", ev)
	}
	ev := nextEvent(t, s)
	if ev.Kind != EventLine || !ev.Truncated || len(ev.Line) != MaxLineSize {
		t.Fatalf("long line event: kind=%v truncated=%v len=%d", ev.Kind, ev.Truncated, len(ev.Line))
	}
	if ev := nextEvent(t, s); ev.Kind != EventLine || ev.Line != "after-long-line" || ev.Truncated {
		t.Fatalf("line after the long line = %+v", ev)
	}
	if n := s.ActiveConnections(); n != 1 {
		t.Errorf("ActiveConnections() = %d, want 1", n)
	}
}

func TestListen_ScansUpward(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()
	base := held.Addr().(*net.TCPAddr).Port

	s, err := Listen(base, 50, logging.Discard())
	if err != nil {
		t.Skipf("no free port above %d: %v", base, err)
	}
	defer s.Close()
	if s.Port() <= base || s.Port() >= base+50 {
		t.Errorf("port = %d, want within (%d, %d)", s.Port(), base, base+50)
	}
}

func TestListen_NoPort(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()
	base := held.Addr().(*net.TCPAddr).Port

	_, err = Listen(base, 1, logging.Discard())
	if !errors.Is(err, ErrNoPort) {
		t.Errorf("err = %v, want ErrNoPort", err)
	}
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	s := startServer(t, 0, 0)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	nextEvent(t, s)

	done := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked with an open connection")
	}
}
