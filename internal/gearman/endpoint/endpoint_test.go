package endpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/protocol"
)

// fakeTask is a minimal Task implementation for tests (§6.5).
type fakeTask struct {
	mu         sync.Mutex
	submit     []byte
	completed  [][]byte
	failed     int
	statuses   [][2]int
	exceptions [][]byte
}

// newFakeTask builds a task whose SubmitPacketBytes is a fully framed
// submit_job packet, the shape the wire actually expects (§6.5: the
// endpoint never interprets these bytes, so the task owns the framing).
func newFakeTask(function, payload string) *fakeTask {
	submit := protocol.Encode(protocol.VerbSubmitJob, []byte(function), []byte{}, []byte(payload))
	return &fakeTask{submit: submit}
}

func (t *fakeTask) SubmitPacketBytes() []byte { return t.submit }
func (t *fakeTask) Complete(payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, payload)
}
func (t *fakeTask) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}
func (t *fakeTask) Status(num, den int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = append(t.statuses, [2]int{num, den})
}
func (t *fakeTask) Exception(payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exceptions = append(t.exceptions, payload)
}

func (t *fakeTask) snapshot() (completed [][]byte, failed int, statuses [][2]int, exceptions [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.completed...), t.failed, append([][2]int(nil), t.statuses...), append([][]byte(nil), t.exceptions...)
}

// fakeServer plays the job-server side of a loopback TCP connection
// for tests. A real socket is used rather than net.Pipe because
// AddTask writes synchronously and net.Pipe has no buffering: a test
// that submits before the server reads would block. The wire is
// asymmetric (real Gearman): the endpoint only ever writes
// \0REQ frames and only ever reads \0RES frames, so the two directions
// need their own framing helpers here rather than reusing the
// endpoint's own (resMagic-only) Framer.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, r: bufio.NewReader(conn)}
}

func (s *fakeServer) recv(t *testing.T) protocol.Packet {
	t.Helper()
	var header [12]byte
	if _, err := io.ReadFull(s.r, header[:]); err != nil {
		t.Fatalf("fakeServer.recv header: %v", err)
	}
	if header[0] != 0 || header[1] != 'R' || header[2] != 'E' || header[3] != 'Q' {
		t.Fatalf("fakeServer.recv: bad magic %v", header[:4])
	}
	verb := protocol.Verb(binary.BigEndian.Uint32(header[4:8]))
	size := binary.BigEndian.Uint32(header[8:12])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(s.r, payload); err != nil {
			t.Fatalf("fakeServer.recv payload: %v", err)
		}
	}
	return protocol.Packet{Verb: verb, Payload: payload}
}

func (s *fakeServer) send(verb protocol.Verb, fields ...[]byte) {
	payload := bytes.Join(fields, []byte{0})
	buf := make([]byte, 12+len(payload))
	copy(buf[:4], []byte{0, 'R', 'E', 'S'})
	binary.BigEndian.PutUint32(buf[4:8], uint32(verb))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[12:], payload)
	s.conn.Write(buf)
}

func newConnectedPair(t *testing.T) (*Endpoint, *fakeServer) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	serverConn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	ep := New(NewHostSpecConn(clientConn), nil)
	srv := newFakeServer(serverConn)
	return ep, srv
}

func waitReady(t *testing.T, ep *Endpoint) {
	t.Helper()
	done := make(chan struct{})
	ep.GetInReadyState(func() { close(done) }, func() { t.Fatal("unexpected on_error") })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Ready")
	}
}

func TestS1_OfflineConnectTimesOut(t *testing.T) {
	ep := New(NewHostSpec("127.0.0.1:0"), nil)
	defer ep.Shutdown()
	ep.TSetOffline(true)

	errCh := make(chan struct{})
	start := time.Now()
	ep.GetInReadyState(func() { t.Error("on_ready should never fire") }, func() { close(errCh) })

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_error")
	}
	if elapsed := time.Since(start); elapsed < connectDeadline {
		t.Errorf("on_error fired too early: %s", elapsed)
	}
	if ep.Alive() {
		t.Error("expected Alive() == false immediately after connect timeout")
	}
}

func TestS2_S3_JobCreatedAndCompletion(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	t1 := newFakeTask("reverse", "a")
	t2 := newFakeTask("reverse", "b")
	if err := AddTask(ep, t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	if err := AddTask(ep, t2); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}

	srv.recv(t) // t1's submit bytes
	srv.recv(t) // t2's submit bytes
	srv.send(protocol.VerbJobCreated, []byte("H1"))
	srv.send(protocol.VerbJobCreated, []byte("H2"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return ep.task2handle[t1] == "H1" && ep.task2handle[t2] == "H2" &&
			len(ep.waiting["H1"]) == 1 && len(ep.waiting["H2"]) == 1
	})

	srv.send(protocol.VerbWorkStatus, []byte("H1"), []byte("2"), []byte("5"))
	srv.send(protocol.VerbWorkComplete, []byte("H1"), []byte("ok"))

	waitForCondition(t, func() bool {
		completed, _, statuses, _ := t1.snapshot()
		return len(completed) == 1 && len(statuses) == 1
	})

	completed, failed, statuses, _ := t1.snapshot()
	if len(statuses) != 1 || statuses[0] != [2]int{2, 5} {
		t.Errorf("unexpected statuses: %v", statuses)
	}
	if len(completed) != 1 || string(completed[0]) != "ok" {
		t.Errorf("unexpected completed: %v", completed)
	}
	if failed != 0 {
		t.Errorf("t1 should not have failed")
	}

	ep.mu.Lock()
	_, t1Has := ep.task2handle[t1]
	_, h2Has := ep.waiting["H2"]
	ep.mu.Unlock()
	if t1Has {
		t.Error("t1 should be removed from task2handle after work_complete")
	}
	if !h2Has {
		t.Error("H2 should still be waiting")
	}
}

func TestWorkExceptionThenFailLeavesNoIntermediateLeak(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	t1 := newFakeTask("reverse", "a")
	if err := AddTask(ep, t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	srv.recv(t)
	srv.send(protocol.VerbJobCreated, []byte("H1"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return ep.task2handle[t1] == "H1"
	})

	srv.send(protocol.VerbWorkException, []byte("H1"), []byte("boom"))

	waitForCondition(t, func() bool {
		_, _, _, exceptions := t1.snapshot()
		return len(exceptions) == 1
	})

	// work_exception must not consume the task: it stays head-of-waiting
	// for the work_fail that follows it (§4.2).
	ep.mu.Lock()
	_, stillHandled := ep.task2handle[t1]
	stillWaiting := len(ep.waiting["H1"]) == 1
	ep.mu.Unlock()
	if !stillHandled || !stillWaiting {
		t.Fatalf("expected t1 to remain tracked after work_exception, handled=%v waiting=%v", stillHandled, stillWaiting)
	}
	if _, failedYet, _, _ := t1.snapshot(); failedYet != 0 {
		t.Fatal("Fail must not have been called yet, only Exception")
	}

	srv.send(protocol.VerbWorkFail, []byte("H1"))

	waitForCondition(t, func() bool {
		_, failed, _, _ := t1.snapshot()
		return failed == 1
	})

	_, failed, _, exceptions := t1.snapshot()
	if len(exceptions) != 1 || string(exceptions[0]) != "boom" {
		t.Errorf("unexpected exceptions: %v", exceptions)
	}
	if failed != 1 {
		t.Errorf("expected exactly one Fail call, got %d", failed)
	}

	ep.mu.Lock()
	_, stillHandledAfter := ep.task2handle[t1]
	_, stillWaitingAfter := ep.waiting["H1"]
	ep.mu.Unlock()
	if stillHandledAfter || stillWaitingAfter {
		t.Error("t1 should be fully untracked after the terminal work_fail")
	}
}

func TestGiveUpOnRemovesHandleAssignedTaskBestEffort(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	t1 := newFakeTask("reverse", "a")
	if err := AddTask(ep, t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	srv.recv(t)
	srv.send(protocol.VerbJobCreated, []byte("H1"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return ep.task2handle[t1] == "H1"
	})

	ep.GiveUpOn(t1)

	ep.mu.Lock()
	_, has := ep.task2handle[t1]
	_, h1Present := ep.waiting["H1"]
	ep.mu.Unlock()
	if has || h1Present {
		t.Error("GiveUpOn should remove t1 from task2handle and empty waiting[H1]")
	}

	// The server was never told; a late work_complete for H1 must be
	// silently discarded rather than panicking or reviving t1.
	srv.send(protocol.VerbWorkComplete, []byte("H1"), []byte("late"))
	time.Sleep(20 * time.Millisecond)
	if completed, _, _, _ := t1.snapshot(); len(completed) != 0 {
		t.Error("a late reply after GiveUpOn must not reach the abandoned task")
	}
}

func TestGiveUpOnIsNoOpBeforeHandleAssignment(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	t1 := newFakeTask("reverse", "a")
	if err := AddTask(ep, t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	srv.recv(t) // job_created never arrives: t1 is still only in need_handle

	ep.GiveUpOn(t1) // must not panic, must not touch need_handle

	ep.mu.Lock()
	needLen := len(ep.needHandle)
	ep.mu.Unlock()
	if needLen != 1 {
		t.Errorf("GiveUpOn must not remove a task still awaiting its handle, needHandle len=%d", needLen)
	}
}

func TestS4_OptionNegotiationAndRefusal(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()
	ep.SetOption("exceptions", true)

	go waitReady(t, ep)

	pkt := srv.recv(t)
	if pkt.Verb != protocol.VerbOptionReq || string(pkt.Payload) != "exceptions" {
		t.Fatalf("expected option_req(exceptions), got %v %q", pkt.Verb, pkt.Payload)
	}

	ep.mu.Lock()
	reqs := append([]string(nil), ep.requests...)
	ep.mu.Unlock()
	if len(reqs) != 1 || reqs[0] != "exceptions" {
		t.Fatalf("expected requests == [exceptions], got %v", reqs)
	}

	srv.send(protocol.VerbError, []byte("4"), []byte("option refused"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return len(ep.requests) == 0 && !ep.options["exceptions"]
	})
}

func TestS5_WorkerDispatchesJobAssign(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	invoked := make(chan *Job, 1)
	if err := ep.RegisterFunction("reverse", func(job *Job) { invoked <- job }); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	go waitReady(t, ep)

	pkt := srv.recv(t)
	if pkt.Verb != protocol.VerbCanDo || string(pkt.Payload) != "reverse" {
		t.Fatalf("expected can_do(reverse), got %v %q", pkt.Verb, pkt.Payload)
	}
	pkt = srv.recv(t)
	if pkt.Verb != protocol.VerbGrabJob {
		t.Fatalf("expected grab_job, got %v", pkt.Verb)
	}

	srv.send(protocol.VerbJobAssign, []byte("Jx"), []byte("reverse"), []byte("abc"))

	pkt = srv.recv(t)
	if pkt.Verb != protocol.VerbGrabJob {
		t.Fatalf("expected a second grab_job right after job_assign, got %v", pkt.Verb)
	}

	select {
	case job := <-invoked:
		if job.Handle != "Jx" || job.Function != "reverse" || string(job.Payload) != "abc" {
			t.Errorf("unexpected job: %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestS6_SocketDeathFailsInFlightTasks(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	t1 := newFakeTask("reverse", "a")
	t2 := newFakeTask("reverse", "b")
	if err := AddTask(ep, t1); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	if err := AddTask(ep, t2); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}
	srv.recv(t)
	srv.recv(t)
	srv.send(protocol.VerbJobCreated, []byte("H1"))
	srv.send(protocol.VerbJobCreated, []byte("H2"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return len(ep.waiting["H1"]) == 1 && len(ep.waiting["H2"]) == 1
	})

	srv.conn.Close()

	waitForCondition(t, func() bool {
		_, f1, _, _ := t1.snapshot()
		_, f2, _, _ := t2.snapshot()
		return f1 == 1 && f2 == 1
	})

	ep.mu.Lock()
	needLen, waitLen, t2hLen := len(ep.needHandle), len(ep.waiting), len(ep.task2handle)
	state := ep.state
	ep.mu.Unlock()
	if needLen != 0 || waitLen != 0 || t2hLen != 0 {
		t.Errorf("expected all tracking maps empty, got need=%d waiting=%d task2handle=%d", needLen, waitLen, t2hLen)
	}
	if state != Disconnected {
		t.Errorf("expected Disconnected, got %v", state)
	}
	if ep.Alive() {
		t.Error("expected Alive() == false after losing a connection with work outstanding")
	}
}

func TestJobCreatedWithEmptyNeedHandleIsFatal(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	go waitReady(t, ep)
	waitForCondition(t, func() bool { return ep.State() == Ready })

	srv.send(protocol.VerbJobCreated, []byte("H1")) // nothing was ever submitted

	waitForCondition(t, func() bool {
		return ep.State() == Disconnected
	})
	if err := ep.LastError(); err == nil {
		t.Error("expected a recorded protocol violation error")
	}
}

func TestReclaimedWeakTaskIsDroppedSilently(t *testing.T) {
	ep, srv := newConnectedPair(t)
	defer ep.Shutdown()

	waitReady(t, ep)

	func() {
		t1 := newFakeTask("reverse", "a")
		if err := AddTask(ep, t1); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
		srv.recv(t)
	}() // t1 goes out of scope here with no other strong reference

	// Give the GC a chance to reclaim t1's allocation before job_created arrives.
	for i := 0; i < 5; i++ {
		runtime.GC()
	}

	srv.send(protocol.VerbJobCreated, []byte("H1"))

	waitForCondition(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return len(ep.needHandle) == 0
	})

	ep.mu.Lock()
	_, hasH1 := ep.waiting["H1"]
	ep.mu.Unlock()
	if hasH1 {
		t.Error("a reclaimed task must never appear in waiting")
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

func TestAsString(t *testing.T) {
	ep := New(NewHostSpec("example:7003"), nil)
	defer ep.Shutdown()
	want := "example:7003(0waiting, 0need_handle, 0requests)"
	if got := ep.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDefaultPort(t *testing.T) {
	h := NewHostSpec("example.com")
	if h.String() != fmt.Sprintf("example.com:%d", defaultPort) {
		t.Errorf("unexpected default-port hostspec: %q", h.String())
	}
}
