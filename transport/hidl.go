package transport

import (
	"fmt"

	"github.com/librescoot/nfc-binder/ipc"
)

const (
	HIDLInterface         = "android.hardware.nfc@1.0::INfc"
	HIDLCallbackInterface = "android.hardware.nfc@1.0::INfcClientCallback"
)

// INfc@1.0 transaction codes
const (
	hidlOpen            uint32 = 1
	hidlWrite           uint32 = 2
	hidlCoreInitialized uint32 = 3
	hidlPrediscover     uint32 = 4
	hidlClose           uint32 = 5
)

// INfcClientCallback@1.0 transaction codes
const (
	hidlCallbackSendEvent uint32 = 1
	hidlCallbackSendData  uint32 = 2
)

// NfcEvent@1.0
const (
	hidlEventOpenCplt uint32 = iota
	hidlEventCloseCplt
	hidlEventPostInitCplt
	hidlEventPreDiscoverCplt
	hidlEventRequestControl
	hidlEventReleaseControl
	hidlEventError
)

// HIDLCodec is the Legacy Transport encoding.
type HIDLCodec struct{}

func (HIDLCodec) Name() string              { return BackendHIDL }
func (HIDLCodec) ServiceInterface() string  { return HIDLInterface }
func (HIDLCodec) CallbackInterface() string { return HIDLCallbackInterface }

func (HIDLCodec) EncodeRequest(op Op, cb ipc.LocalObject, data []byte) (uint32, *ipc.Parcel) {
	req := ipc.NewParcel()
	switch op {
	case OpOpen:
		return hidlOpen, req.AppendObject(cb)
	case OpClose:
		return hidlClose, req
	case OpCoreInitialized:
		return hidlCoreInitialized, req
	case OpPrediscover:
		return hidlPrediscover, req
	case OpWrite:
		return hidlWrite, req.AppendPaddedVec(data)
	}
	panic(fmt.Sprintf("hidl: unsupported op %s", op))
}

func (HIDLCodec) ReadBlock(r *ipc.Reader) ([]byte, error) {
	data, err := r.ReadPaddedVec()
	if err != nil {
		return nil, err
	}
	return nonNil(data), nil
}

func (HIDLCodec) PushKind(code uint32) PushKind {
	switch code {
	case hidlCallbackSendEvent:
		return PushEvent
	case hidlCallbackSendData:
		return PushData
	}
	return PushUnknown
}

func (HIDLCodec) Event(raw uint32) (Event, bool) {
	switch raw {
	case hidlEventOpenCplt:
		return EventOpenComplete, true
	case hidlEventCloseCplt:
		return EventCloseComplete, true
	}
	return EventAny, false
}

func (HIDLCodec) EventName(raw uint32) string {
	switch raw {
	case hidlEventOpenCplt:
		return "OPEN_CPLT"
	case hidlEventCloseCplt:
		return "CLOSE_CPLT"
	case hidlEventPostInitCplt:
		return "POST_INIT_CPLT"
	case hidlEventPreDiscoverCplt:
		return "PRE_DISCOVER_CPLT"
	case hidlEventRequestControl:
		return "REQUEST_CONTROL"
	case hidlEventReleaseControl:
		return "RELEASE_CONTROL"
	case hidlEventError:
		return "ERROR"
	}
	return fmt.Sprintf("%d", raw)
}
