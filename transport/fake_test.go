package transport

import (
	"testing"

	"github.com/librescoot/nfc-binder/ipc"
)

type fakeCall struct {
	id      uint64
	code    uint32
	req     []byte
	done    ipc.ReplyFunc
	destroy func()
}

type fakeObject struct {
	handle  uint32
	iface   string
	handler ipc.Handler
	dropped bool
}

func (o *fakeObject) Handle() uint32    { return o.handle }
func (o *fakeObject) Interface() string { return o.iface }
func (o *fakeObject) Drop()             { o.dropped = true }

// fakeRemote is both the ipc.Remote and the ipc.Client of a binding.
type fakeRemote struct {
	iface        string
	lastID       uint64
	calls        map[uint64]*fakeCall
	sent         []*fakeCall
	failDispatch bool
	objects      []*fakeObject
	deaths       map[uint64]func()
	lastDeathID  uint64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		calls:  make(map[uint64]*fakeCall),
		deaths: make(map[uint64]func()),
	}
}

func (r *fakeRemote) NewClient(iface string) ipc.Client {
	r.iface = iface
	return r
}

func (r *fakeRemote) NewLocalObject(iface string, handler ipc.Handler) ipc.LocalObject {
	obj := &fakeObject{handle: uint32(len(r.objects) + 1), iface: iface, handler: handler}
	r.objects = append(r.objects, obj)
	return obj
}

func (r *fakeRemote) AddDeathHandler(fn func()) uint64 {
	r.lastDeathID++
	r.deaths[r.lastDeathID] = fn
	return r.lastDeathID
}

func (r *fakeRemote) RemoveHandler(id uint64) {
	delete(r.deaths, id)
}

func (r *fakeRemote) IsDead() bool {
	return false
}

func (r *fakeRemote) Interface() string {
	return r.iface
}

func (r *fakeRemote) Transact(code uint32, req *ipc.Parcel, done ipc.ReplyFunc, destroy func()) uint64 {
	if r.failDispatch {
		return 0
	}
	r.lastID++
	c := &fakeCall{id: r.lastID, code: code, req: req.Bytes(), done: done, destroy: destroy}
	r.calls[c.id] = c
	r.sent = append(r.sent, c)
	return c.id
}

func (r *fakeRemote) Cancel(id uint64) {
	c, ok := r.calls[id]
	if !ok {
		return
	}
	delete(r.calls, id)
	if c.destroy != nil {
		c.destroy()
	}
}

func (r *fakeRemote) reply(t *testing.T, id uint64, status ipc.Status, payload *ipc.Parcel) {
	t.Helper()
	c, ok := r.calls[id]
	if !ok {
		t.Fatalf("no outstanding call %d", id)
	}
	delete(r.calls, id)
	var reader *ipc.Reader
	if payload != nil {
		reader = ipc.NewReader(payload.Bytes())
	}
	if c.done != nil {
		c.done(reader, status)
	}
	if c.destroy != nil {
		c.destroy()
	}
}

func (r *fakeRemote) last(t *testing.T) *fakeCall {
	t.Helper()
	if len(r.sent) == 0 {
		t.Fatalf("no call was sent")
	}
	return r.sent[len(r.sent)-1]
}

func (r *fakeRemote) push(iface string, code uint32, payload *ipc.Parcel) ipc.Status {
	obj := r.objects[len(r.objects)-1]
	return obj.handler(&ipc.Request{
		Interface: iface,
		Code:      code,
		Reader:    ipc.NewReader(payload.Bytes()),
	})
}

func (r *fakeRemote) die() {
	for _, fn := range r.deaths {
		fn()
	}
}

func okReply() *ipc.Parcel {
	return ipc.NewParcel().AppendInt32(0)
}

type tracker struct {
	done     []bool
	cleanups int
}

func (tr *tracker) complete(ok bool) {
	tr.done = append(tr.done, ok)
}

func (tr *tracker) cleanup() {
	tr.cleanups++
}
