package protocol

import "testing"

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		OK:            "OK",
		RETRY:         "RETRY",
		RPCERR:        "RPCERR",
		NOENT:         "NOENT",
		IOERR:         "IOERR",
		Status(99):    "Status(99)",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestServerStateString(t *testing.T) {
	cases := map[ServerState]string{
		Free:   "FREE",
		Locked: "LOCKED",
		Acq:    "ACQ",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("ServerState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestLocalStateString(t *testing.T) {
	cases := map[LocalState]string{
		None:        "NONE",
		FreeLocal:   "FREE",
		LockedLocal: "LOCKED",
		Acquiring:   "ACQUIRING",
		Releasing:   "RELEASING",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("LocalState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestRPCKindString(t *testing.T) {
	cases := map[RPCKind]string{
		KindAcquire:   "ACQUIRE",
		KindRelease:   "RELEASE",
		KindRevoke:    "REVOKE",
		KindRetry:     "RETRY",
		KindRetryWait: "RETRY_WAIT",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("RPCKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
