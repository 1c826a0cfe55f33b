package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// StateEntry is one lock_map row as it crosses the state-transfer wire.
// It mirrors the coordinator's internal entry but owns no mutex and no
// behaviour — coordinator.Coordinator converts to/from this shape under
// its own lock.
type StateEntry struct {
	LockID   LockID
	OwnerXID XID
	State    ServerState
	Owner    ClientID
	Waiting  []ClientID
	XIDMap   map[ClientID]XID
}

// MarshalState serializes the whole lock map per the wire layout:
//
//	<map_size: u32>
//	  for each entry:
//	    <lid: u64> <owner_xid: u64> <local_state: i32>
//	    <owner: string>
//	    <waiting_size: u32> { <client_id: string> }
//	    <xid_map_size: u32> { <client_id: string> <xid: u64> }
//
// All integers are little-endian; strings are a u32 byte count followed by
// the raw bytes. Entries are emitted in ascending LockID order and each
// entry's XIDMap in ascending ClientID order so that two calls against an
// equivalent map produce byte-identical output.
func MarshalState(entries []StateEntry) []byte {
	sorted := make([]StateEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LockID < sorted[j].LockID })

	var buf bytes.Buffer
	writeU32(&buf, uint32(len(sorted)))

	for _, e := range sorted {
		writeU64(&buf, uint64(e.LockID))
		writeU64(&buf, uint64(e.OwnerXID))
		writeI32(&buf, int32(e.State))
		writeString(&buf, string(e.Owner))

		writeU32(&buf, uint32(len(e.Waiting)))
		for _, w := range e.Waiting {
			writeString(&buf, string(w))
		}

		keys := make([]ClientID, 0, len(e.XIDMap))
		for k := range e.XIDMap {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		writeU32(&buf, uint32(len(keys)))
		for _, k := range keys {
			writeString(&buf, string(k))
			writeU64(&buf, uint64(e.XIDMap[k]))
		}
	}

	return buf.Bytes()
}

// ErrBadState is returned when a blob decodes to a local_state integer that
// no known ServerState variant uses. Per the unmarshalling contract, this
// is a programming/data-corruption error, not a recoverable one — callers
// are expected to treat it as fatal.
var ErrBadState = fmt.Errorf("protocol: unknown local_state in serialized entry")

// UnmarshalState parses a blob produced by MarshalState. An unrecognised
// local_state value returns ErrBadState; callers should abort rather than
// attempt to continue running against a corrupted lock map.
func UnmarshalState(blob []byte) ([]StateEntry, error) {
	r := bytes.NewReader(blob)

	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: reading map size: %w", err)
	}

	entries := make([]StateEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e StateEntry

		lid, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading lock id: %w", err)
		}
		e.LockID = LockID(lid)

		oxid, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading owner xid: %w", err)
		}
		e.OwnerXID = XID(oxid)

		st, err := readI32(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading local_state: %w", err)
		}
		switch ServerState(st) {
		case Free, Locked, Acq:
			e.State = ServerState(st)
		default:
			return nil, ErrBadState
		}

		owner, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading owner: %w", err)
		}
		e.Owner = ClientID(owner)

		waitingSize, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading waiting size: %w", err)
		}
		e.Waiting = make([]ClientID, 0, waitingSize)
		for j := uint32(0); j < waitingSize; j++ {
			w, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("protocol: reading waiter: %w", err)
			}
			e.Waiting = append(e.Waiting, ClientID(w))
		}

		xidMapSize, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("protocol: reading xid_map size: %w", err)
		}
		e.XIDMap = make(map[ClientID]XID, xidMapSize)
		for j := uint32(0); j < xidMapSize; j++ {
			k, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("protocol: reading xid_map key: %w", err)
			}
			v, err := readU64(r)
			if err != nil {
				return nil, fmt.Errorf("protocol: reading xid_map value: %w", err)
			}
			e.XIDMap[ClientID(k)] = XID(v)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
