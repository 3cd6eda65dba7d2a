package transport

import (
	"fmt"

	"github.com/librescoot/nfc-binder/ipc"
)

const (
	AIDLInterface         = "android.hardware.nfc.INfc"
	AIDLCallbackInterface = "android.hardware.nfc.INfcClientCallback"
)

// INfc transaction codes
const (
	aidlOpen            uint32 = 1
	aidlClose           uint32 = 2
	aidlCoreInitialized uint32 = 3
	aidlPreDiscover     uint32 = 7
	aidlWrite           uint32 = 8
)

// INfcClientCallback transaction codes
const (
	aidlCallbackSendData  uint32 = 1
	aidlCallbackSendEvent uint32 = 2
)

// NfcEvent
const (
	aidlEventOpenCplt uint32 = iota
	aidlEventCloseCplt
	aidlEventPostInitCplt
	aidlEventPreDiscoverCplt
	aidlEventHCINetworkReset
	aidlEventError
	aidlEventRequestControl
	aidlEventReleaseControl
)

// NfcCloseType DISABLE
const aidlCloseDisable int32 = 0

// AIDLCodec is the Modern Transport encoding.
type AIDLCodec struct{}

func (AIDLCodec) Name() string              { return BackendAIDL }
func (AIDLCodec) ServiceInterface() string  { return AIDLInterface }
func (AIDLCodec) CallbackInterface() string { return AIDLCallbackInterface }

func (AIDLCodec) EncodeRequest(op Op, cb ipc.LocalObject, data []byte) (uint32, *ipc.Parcel) {
	req := ipc.NewParcel()
	switch op {
	case OpOpen:
		return aidlOpen, req.AppendObject(cb)
	case OpClose:
		return aidlClose, req.AppendInt32(aidlCloseDisable)
	case OpCoreInitialized:
		return aidlCoreInitialized, req
	case OpPrediscover:
		return aidlPreDiscover, req
	case OpWrite:
		return aidlWrite, req.AppendByteArray(nonNil(data))
	}
	panic(fmt.Sprintf("aidl: unsupported op %s", op))
}

func (AIDLCodec) ReadBlock(r *ipc.Reader) ([]byte, error) {
	data, err := r.ReadByteArray()
	if err != nil {
		return nil, err
	}
	return nonNil(data), nil
}

func (AIDLCodec) PushKind(code uint32) PushKind {
	switch code {
	case aidlCallbackSendData:
		return PushData
	case aidlCallbackSendEvent:
		return PushEvent
	}
	return PushUnknown
}

func (AIDLCodec) Event(raw uint32) (Event, bool) {
	switch raw {
	case aidlEventOpenCplt:
		return EventOpenComplete, true
	case aidlEventCloseCplt:
		return EventCloseComplete, true
	}
	return EventAny, false
}

func (AIDLCodec) EventName(raw uint32) string {
	switch raw {
	case aidlEventOpenCplt:
		return "OPEN_CPLT"
	case aidlEventCloseCplt:
		return "CLOSE_CPLT"
	case aidlEventPostInitCplt:
		return "POST_INIT_CPLT"
	case aidlEventPreDiscoverCplt:
		return "PRE_DISCOVER_CPLT"
	case aidlEventHCINetworkReset:
		return "HCI_NETWORK_RESET"
	case aidlEventError:
		return "ERROR"
	case aidlEventRequestControl:
		return "REQUEST_CONTROL"
	case aidlEventReleaseControl:
		return "RELEASE_CONTROL"
	}
	return fmt.Sprintf("%d", raw)
}

// nonNil keeps empty blocks distinct from the null array.
func nonNil(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
