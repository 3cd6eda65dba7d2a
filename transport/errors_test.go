package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/librescoot/nfc-binder/ipc"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		dispatch bool
		remote   bool
		protocol bool
		death    bool
	}{
		{"dispatch", NewDispatchError(OpOpen), ErrCodeDispatch, true, false, false, false},
		{"remote status", NewRemoteError(OpClose, ipc.StatusFailed, -1), ErrCodeRemoteStatus, false, true, false, false},
		{"remote result", NewRemoteError(OpClose, ipc.StatusOK, 2), ErrCodeRemoteResult, false, true, false, false},
		{"malformed reply", NewMalformedReplyError(OpWrite, ipc.ErrTruncated), ErrCodeMalformedReply, false, false, true, false},
		{"unknown code", NewUnknownCodeError(5), ErrCodeUnknownCode, false, false, true, false},
		{"death", NewPeerDeathError("aidl"), ErrCodePeerDeath, false, false, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var te Error
			if !errors.As(tc.err, &te) || te.Code() != tc.code {
				t.Fatalf("expected code %d, got %v", tc.code, tc.err)
			}
			if IsDispatchError(tc.err) != tc.dispatch || IsRemoteError(tc.err) != tc.remote ||
				IsProtocolError(tc.err) != tc.protocol || IsPeerDeathError(tc.err) != tc.death {
				t.Fatalf("unexpected classification for %v", tc.err)
			}
		})
	}
}

func TestErrorHelpersSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("open: %w", NewMalformedReplyError(OpOpen, ipc.ErrTruncated))
	if !IsProtocolError(err) {
		t.Fatalf("expected wrapped protocol error to be detected")
	}
	if !errors.Is(err, ipc.ErrTruncated) {
		t.Fatalf("expected cause to be reachable")
	}
	if IsRemoteError(nil) {
		t.Fatalf("nil is not an error")
	}
}
