package coordinator

import (
	"github.com/coherentd/lockd/internal/audit"
	"github.com/coherentd/lockd/internal/protocol"
)

// MarshalState serializes the entire lock map under the coordinator's
// mutex . The RSM substrate invokes this across view
// changes; it may be called at any quiescent moment between RPC handling.
func (c *Coordinator) MarshalState() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]protocol.StateEntry, 0, len(c.entries))
	for lid, e := range c.entries {
		xidMap := make(map[protocol.ClientID]protocol.XID, len(e.xidMap))
		for k, v := range e.xidMap {
			xidMap[k] = v
		}
		waiting := make([]protocol.ClientID, len(e.waiting))
		copy(waiting, e.waiting)

		entries = append(entries, protocol.StateEntry{
			LockID:   lid,
			OwnerXID: e.xid,
			State:    e.state,
			Owner:    e.owner,
			Waiting:  waiting,
			XIDMap:   xidMap,
		})
	}

	return protocol.MarshalState(entries)
}

// UnmarshalState clears and repopulates the lock map atomically from blob.
// An unrecognised local_state is a fatal invariant violation per spec.md
// §7 and is propagated as ErrBadState for the caller (typically the RSM
// view-change path) to treat as fatal.
func (c *Coordinator) UnmarshalState(blob []byte) error {
	entries, err := protocol.UnmarshalState(blob)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[protocol.LockID]*entry, len(entries))
	for _, se := range entries {
		xidMap := make(map[protocol.ClientID]protocol.XID, len(se.XIDMap))
		for k, v := range se.XIDMap {
			xidMap[k] = v
		}
		waiting := make([]protocol.ClientID, len(se.Waiting))
		copy(waiting, se.Waiting)

		c.entries[se.LockID] = &entry{
			state:   se.State,
			owner:   se.Owner,
			xid:     se.OwnerXID,
			waiting: waiting,
			xidMap:  xidMap,
		}
	}

	c.notify(audit.Event{Kind: audit.EventStateTransfer})

	return nil
}
