package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

type connFixture struct {
	conn   *Conn
	loop   *Loop
	peer   int
	cancel context.CancelFunc
}

func newConnFixture(t *testing.T) *connFixture {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	loop := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	conn := NewConn(fds[0], loop, zerolog.Nop())
	conn.Start()

	f := &connFixture{conn: conn, loop: loop, peer: fds[1], cancel: cancel}
	t.Cleanup(func() {
		cancel()
		loop.Stop()
		conn.Close()
		if f.peer >= 0 {
			unix.Close(f.peer)
		}
	})
	return f
}

// onLoop runs fn on the loop goroutine and waits for it.
func (f *connFixture) onLoop(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	f.loop.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not run posted function")
	}
}

func (f *connFixture) readFrame(t *testing.T) Frame {
	t.Helper()
	pfd := []unix.PollFd{{Fd: int32(f.peer), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 2000)
	if err != nil || n == 0 {
		t.Fatalf("no frame from conn: n=%d err=%v", n, err)
	}
	buf := make([]byte, MaxFrameSize)
	readN, err := unix.Read(f.peer, buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	fr, err := DecodeFrame(buf[:readN])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return fr
}

func (f *connFixture) writeFrame(t *testing.T, fr Frame) {
	t.Helper()
	buf, err := EncodeFrame(fr)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := unix.Write(f.peer, buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestConnTransactReply(t *testing.T) {
	f := newConnFixture(t)
	statuses := make(chan Status, 1)
	results := make(chan int32, 1)
	order := make(chan string, 2)

	var id uint64
	f.onLoop(t, func() {
		cl := f.conn.NewClient("test.IFoo")
		id = cl.Transact(4, NewParcel().AppendUint32(11), func(r *Reader, s Status) {
			v, _ := r.ReadInt32()
			results <- v
			statuses <- s
			order <- "done"
		}, func() { order <- "destroy" })
	})
	if id == 0 {
		t.Fatalf("expected a call id")
	}

	req := f.readFrame(t)
	if req.Header.Kind != KindTransaction || req.Header.Code != 4 || req.Interface != "test.IFoo" {
		t.Fatalf("unexpected request %+v %q", req.Header, req.Interface)
	}
	if v, _ := NewReader(req.Payload).ReadUint32(); v != 11 {
		t.Fatalf("expected payload 11, got %d", v)
	}

	f.writeFrame(t, Frame{
		Header:  Header{Kind: KindReply, ID: req.Header.ID},
		Payload: NewParcel().AppendInt32(0).Bytes(),
	})

	if s := waitFor(t, statuses); s != StatusOK {
		t.Fatalf("expected OK, got %v", s)
	}
	if v := <-results; v != 0 {
		t.Fatalf("expected result 0, got %d", v)
	}
	if first, second := waitFor(t, order), waitFor(t, order); first != "done" || second != "destroy" {
		t.Fatalf("expected done before destroy, got %s then %s", first, second)
	}
}

func TestConnCancel(t *testing.T) {
	f := newConnFixture(t)
	destroyed := make(chan struct{}, 1)
	called := false

	var id uint64
	f.onLoop(t, func() {
		cl := f.conn.NewClient("test.IFoo")
		id = cl.Transact(1, nil, func(*Reader, Status) { called = true }, func() { destroyed <- struct{}{} })
		cl.Cancel(id)
	})
	waitFor(t, destroyed)

	// A late reply must be ignored
	req := f.readFrame(t)
	f.writeFrame(t, Frame{Header: Header{Kind: KindReply, ID: req.Header.ID}})
	f.onLoop(t, func() {})
	f.onLoop(t, func() {
		if called {
			t.Errorf("reply callback must not run after cancel")
		}
		if f.conn.Pending() != 0 {
			t.Errorf("expected no pending calls, got %d", f.conn.Pending())
		}
	})
}

func TestConnInboundTransaction(t *testing.T) {
	f := newConnFixture(t)
	requests := make(chan Request, 1)

	var handle uint32
	f.onLoop(t, func() {
		obj := f.conn.NewLocalObject("test.ICallback", func(req *Request) Status {
			requests <- *req
			return StatusOK
		})
		handle = obj.Handle()
	})

	f.writeFrame(t, Frame{
		Header:    Header{Kind: KindTransaction, Target: handle, Code: 2, ID: 77},
		Interface: "test.ICallback",
		Payload:   NewParcel().AppendUint32(5).Bytes(),
	})

	req := waitFor(t, requests)
	if req.Interface != "test.ICallback" || req.Code != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
	if v, _ := req.Reader.ReadUint32(); v != 5 {
		t.Fatalf("expected 5, got %d", v)
	}

	reply := f.readFrame(t)
	if reply.Header.Kind != KindReply || reply.Header.ID != 77 || reply.Header.Status != StatusOK {
		t.Fatalf("unexpected reply %+v", reply.Header)
	}
}

func TestConnInboundToDroppedObject(t *testing.T) {
	f := newConnFixture(t)
	var handle uint32
	f.onLoop(t, func() {
		obj := f.conn.NewLocalObject("test.ICallback", func(*Request) Status { return StatusOK })
		handle = obj.Handle()
		obj.Drop()
	})

	f.writeFrame(t, Frame{Header: Header{Kind: KindTransaction, Target: handle, Code: 1, ID: 3}})
	reply := f.readFrame(t)
	if reply.Header.Status != StatusDeadObject {
		t.Fatalf("expected DEAD_OBJECT, got %v", reply.Header.Status)
	}
}

func TestConnPeerDeath(t *testing.T) {
	f := newConnFixture(t)
	statuses := make(chan Status, 1)
	deaths := make(chan struct{}, 1)

	f.onLoop(t, func() {
		f.conn.AddDeathHandler(func() { deaths <- struct{}{} })
		cl := f.conn.NewClient("test.IFoo")
		cl.Transact(1, nil, func(r *Reader, s Status) { statuses <- s }, nil)
	})
	f.readFrame(t)

	unix.Close(f.peer)
	f.peer = -1

	if s := waitFor(t, statuses); s != StatusDeadObject {
		t.Fatalf("expected DEAD_OBJECT, got %v", s)
	}
	waitFor(t, deaths)

	f.onLoop(t, func() {
		if !f.conn.IsDead() {
			t.Errorf("expected conn to be dead")
		}
		if id := f.conn.NewClient("test.IFoo").Transact(1, nil, nil, nil); id != 0 {
			t.Errorf("expected dispatch failure after death, got id %d", id)
		}
	})
}
