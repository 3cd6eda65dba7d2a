package ipc

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/librescoot/nfc-binder/internal/signal"
)

const (
	pollTimeoutMs = 1000
	deathSignal   = 0
)

type call struct {
	done    ReplyFunc
	destroy func()
}

// Conn is a connection to one remote service. Everything except Start,
// Close and the reader goroutine must be used from the Loop goroutine.
type Conn struct {
	fd   int
	loop *Loop
	log  zerolog.Logger

	writeMu sync.Mutex

	lastID     uint64
	pending    map[uint64]*call
	lastHandle uint32
	objects    map[uint32]*localObject
	deaths     signal.Registry[int, func()]
	dead       bool

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Dial connects to the service socket at path.
func Dial(path string, loop *Loop, log zerolog.Logger) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return NewConn(fd, loop, log), nil
}

// NewConn wraps an already connected SOCK_SEQPACKET descriptor. The Conn
// takes ownership of fd.
func NewConn(fd int, loop *Loop, log zerolog.Logger) *Conn {
	return &Conn{
		fd:      fd,
		loop:    loop,
		log:     log.With().Str("component", "ipc").Logger(),
		pending: make(map[uint64]*call),
		objects: make(map[uint32]*localObject),
		stop:    make(chan struct{}),
	}
}

// Start launches the reader goroutine.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.reader()
	})
}

// Close stops the reader and closes the socket. Outstanding calls are not
// completed; use it only once the loop is no longer running.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		err = unix.Close(c.fd)
	})
	return err
}

// NewClient implements Remote.
func (c *Conn) NewClient(iface string) Client {
	return &client{conn: c, iface: iface}
}

// NewLocalObject implements Remote.
func (c *Conn) NewLocalObject(iface string, handler Handler) LocalObject {
	c.lastHandle++
	obj := &localObject{
		conn:    c,
		handle:  c.lastHandle,
		iface:   iface,
		handler: handler,
	}
	c.objects[obj.handle] = obj
	return obj
}

// AddDeathHandler implements Remote.
func (c *Conn) AddDeathHandler(fn func()) uint64 {
	return c.deaths.Add(deathSignal, fn)
}

// RemoveHandler implements Remote.
func (c *Conn) RemoveHandler(id uint64) {
	c.deaths.Remove(id)
}

// IsDead implements Remote.
func (c *Conn) IsDead() bool {
	return c.dead
}

// Pending returns the number of outstanding transactions.
func (c *Conn) Pending() int {
	return len(c.pending)
}

func (c *Conn) transact(iface string, code uint32, req *Parcel, done ReplyFunc, destroy func()) uint64 {
	if c.dead {
		c.log.Debug().Str("iface", iface).Uint32("code", code).Msg("Remote is dead, not sending")
		return 0
	}
	id := c.lastID + 1
	err := c.send(Frame{
		Header:    Header{Kind: KindTransaction, Code: code, ID: id},
		Interface: iface,
		Payload:   req.Bytes(),
	})
	if err != nil {
		c.log.Error().Err(err).Str("iface", iface).Uint32("code", code).Msg("Failed to send transaction")
		return 0
	}
	c.lastID = id
	c.pending[id] = &call{done: done, destroy: destroy}
	return id
}

func (c *Conn) cancel(id uint64) {
	pc, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	if pc.destroy != nil {
		pc.destroy()
	}
}

func (c *Conn) send(f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	c.log.Trace().Str("dir", "tx").Hex("frame", buf).Msg("IPC")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for {
		_, err = unix.Write(c.fd, buf)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (c *Conn) reader() {
	defer c.wg.Done()
	buf := make([]byte, MaxFrameSize)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.log.Error().Err(err).Msg("Poll error")
			c.loop.Post(c.die)
			return
		}
		if n == 0 {
			continue
		}

		if pfd[0].Revents&unix.POLLIN == 0 && pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			c.loop.Post(c.die)
			return
		}

		readN, err := unix.Read(c.fd, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			c.log.Error().Err(err).Msg("Read error")
			c.loop.Post(c.die)
			return
		}
		if readN == 0 {
			c.log.Info().Msg("Remote closed the connection")
			c.loop.Post(c.die)
			return
		}

		c.log.Trace().Str("dir", "rx").Hex("frame", buf[:readN]).Msg("IPC")
		f, err := DecodeFrame(buf[:readN])
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if !c.loop.Post(func() { c.dispatch(f) }) {
			return
		}
	}
}

func (c *Conn) dispatch(f Frame) {
	if c.dead {
		return
	}
	switch f.Header.Kind {
	case KindReply:
		pc, ok := c.pending[f.Header.ID]
		if !ok {
			c.log.Debug().Uint64("id", f.Header.ID).Msg("Reply for unknown or cancelled call")
			return
		}
		delete(c.pending, f.Header.ID)
		if pc.done != nil {
			pc.done(NewReader(f.Payload), f.Header.Status)
		}
		if pc.destroy != nil {
			pc.destroy()
		}
	case KindTransaction:
		c.handleInbound(f)
	}
}

func (c *Conn) handleInbound(f Frame) {
	oneway := f.Header.Flags&FlagOneway != 0
	status := StatusDeadObject

	obj, ok := c.objects[f.Header.Target]
	if ok && obj.handler != nil {
		status = obj.handler(&Request{
			Interface: f.Interface,
			Code:      f.Header.Code,
			Oneway:    oneway,
			Reader:    NewReader(f.Payload),
		})
	} else {
		c.log.Warn().Uint32("handle", f.Header.Target).Msg("Transaction for unknown local object")
	}
	if oneway {
		return
	}

	var reply *Parcel
	if status == StatusOK {
		reply = NewParcel().AppendInt32(0)
	}
	err := c.send(Frame{
		Header: Header{
			Kind:   KindReply,
			Target: f.Header.Target,
			Code:   f.Header.Code,
			Status: status,
			ID:     f.Header.ID,
		},
		Payload: reply.Bytes(),
	})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to send reply")
	}
}

// die fails every outstanding call and notifies death handlers. Runs once.
func (c *Conn) die() {
	if c.dead {
		return
	}
	c.dead = true
	c.log.Warn().Int("pending", len(c.pending)).Msg("Remote service died")

	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		pc, ok := c.pending[id]
		if !ok {
			continue
		}
		delete(c.pending, id)
		if pc.done != nil {
			pc.done(nil, StatusDeadObject)
		}
		if pc.destroy != nil {
			pc.destroy()
		}
	}

	c.deaths.Each(deathSignal, func(fn func()) { fn() })
}

type client struct {
	conn  *Conn
	iface string
}

func (cl *client) Interface() string {
	return cl.iface
}

func (cl *client) Transact(code uint32, req *Parcel, done ReplyFunc, destroy func()) uint64 {
	return cl.conn.transact(cl.iface, code, req, done, destroy)
}

func (cl *client) Cancel(id uint64) {
	cl.conn.cancel(id)
}

type localObject struct {
	conn    *Conn
	handle  uint32
	iface   string
	handler Handler
}

func (o *localObject) Handle() uint32 {
	return o.handle
}

func (o *localObject) Interface() string {
	return o.iface
}

func (o *localObject) Drop() {
	o.handler = nil
	delete(o.conn.objects, o.handle)
}
