// Package rsm defines the narrow interface the coordinator presents to the
// replicated state-machine substrate that is explicitly out of scope for
// this system : marshal/unmarshal of the whole lock map, and
// an am-i-primary query the sender thread consults before every outbound
// RPC. The substrate itself — view changes, log replication, leader
// election — is someone else's package; this one only has to exist so the
// coordinator can be built and tested without it.
package rsm

// StateTransferable is implemented by the coordinator. The substrate calls
// MarshalState to capture a snapshot for a new replica and UnmarshalState
// to install one, both of which may happen at any quiescent moment between
// RPC handling.
type StateTransferable interface {
	MarshalState() []byte
	UnmarshalState(blob []byte) error
}

// Substrate is the facade the coordinator is wired to. The coordinator is
// not handed the Substrate itself: its AmIPrimary method is passed to
// coordinator.New as a function, and SetStateTransfer registers the
// coordinator afterwards.
type Substrate interface {
	// AmIPrimary reports whether this replica should currently originate
	// RPCs to clients. Backups must not speak.
	AmIPrimary() bool
	// SetStateTransfer registers the coordinator so the substrate can
	// invoke MarshalState/UnmarshalState across view changes.
	SetStateTransfer(StateTransferable)
}

// Standalone is a single-replica stand-in for the real substrate: it is
// always primary and has no backups to transfer state to. It exists so the
// coordinator can run (and be demoed) without a real RSM deployment.
type Standalone struct {
	transferable StateTransferable
}

// NewStandalone returns a substrate that always reports primary.
func NewStandalone() *Standalone {
	return &Standalone{}
}

func (s *Standalone) AmIPrimary() bool { return true }

func (s *Standalone) SetStateTransfer(t StateTransferable) {
	s.transferable = t
}

// Snapshot returns the most recently registered coordinator's serialized
// state, for tests and operational tooling that want to inspect it without
// a real view change.
func (s *Standalone) Snapshot() []byte {
	if s.transferable == nil {
		return nil
	}
	return s.transferable.MarshalState()
}
