package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
// All timestamps are unix nanoseconds (0 = unset).
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Resource key
	ResourceType string `json:"resource_type,omitempty"` // Used for: all lock.* and store.* requests on a single key
	ResourceID   string `json:"resource_id,omitempty"`

	// Lease fields
	OwnerID      string `json:"owner_id,omitempty"`      // Used for: acquire, release, releaseAll, listOwner, delete, deleteOwner
	OwnerDisplay string `json:"owner_display,omitempty"` // Used for: acquire, update
	Mode         uint8  `json:"mode,omitempty"`          // Used for: acquire, update
	RecordID     string `json:"record_id,omitempty"`     // Used for: update, delete
	DurationMs   int64  `json:"duration_ms,omitempty"`   // Used for: acquire

	// Timestamps
	AcquiredAt int64 `json:"acquired_at,omitempty"` // Used for: update
	ExpiresAt  int64 `json:"expires_at,omitempty"`  // Used for: update
	Timestamp  int64 `json:"timestamp,omitempty"`   // Used for: delete (expired at), deleteExpired (before)

	// Response fields
	Ok      bool     `json:"ok,omitempty"`      // Used for: check (locked), find (found), insert, update, delete, release
	Code    uint8    `json:"code,omitempty"`    // Used for: acquire (AcquireCode), release (ReleaseReason)
	Count   int64    `json:"count,omitempty"`   // Used for: releaseAll, sweep, deleteOwner, deleteExpired
	Records [][]byte `json:"records,omitempty"` // Binary encoded db.Record values
	Err     string   `json:"err,omitempty"`     // Empty if no error, otherwise contains the error message
	ErrKind ErrKind  `json:"err_kind,omitempty"`
}

// --------------------------------------------------------------------------
// Field Helpers
// --------------------------------------------------------------------------

// Key returns the resource key of the message
func (m *Message) Key() db.Key {
	return db.NewKey(db.ResourceType(m.ResourceType), m.ResourceID)
}

func (m *Message) setKey(key db.Key) {
	m.ResourceType = string(key.ResourceType)
	m.ResourceID = key.ResourceID
}

func (m *Message) setErr(err error) *Message {
	if err != nil {
		m.Err = err.Error()
		m.ErrKind = KindOf(err)
	}
	return m
}

// Error rebuilds the error carried by the message (nil if there is none)
func (m *Message) Error() error {
	if m.Err == "" && m.ErrKind == ErrKindNone {
		return nil
	}
	if m.ErrKind == ErrKindNone {
		return ErrKindInternal.Err(m.Err)
	}
	return m.ErrKind.Err(m.Err)
}

// Duration returns DurationMs as a time.Duration
func (m *Message) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// EncodeRecords encodes records for the Records field
func EncodeRecords(recs ...db.Record) ([][]byte, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(recs))
	for i, rec := range recs {
		b, err := rec.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// DecodeRecords decodes the Records field
func DecodeRecords(data [][]byte) ([]db.Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]db.Record, len(data))
	for i, b := range data {
		if err := out[i].UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return out, nil
}

// Record returns the first record of the message
func (m *Message) Record() (db.Record, bool, error) {
	if len(m.Records) == 0 {
		return db.Record{}, false, nil
	}
	var rec db.Record
	if err := rec.UnmarshalBinary(m.Records[0]); err != nil {
		return db.Record{}, false, err
	}
	return rec, true, nil
}

// withRecords sets Records; an encoding failure is reported in Err
func (m *Message) withRecords(recs ...db.Record) *Message {
	data, err := EncodeRecords(recs...)
	if err != nil && m.Err == "" {
		return m.setErr(err)
	}
	m.Records = data
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions (lock manager)
// --------------------------------------------------------------------------

// NewCheckRequest creates a new lock.check request
func NewCheckRequest(key db.Key) *Message {
	msg := &Message{MsgType: MsgTLockCheck}
	msg.setKey(key)
	return msg
}

// NewCheckResponse creates a new lock.check response
func NewCheckResponse(locked bool, holder db.Record, err error) *Message {
	msg := &Message{MsgType: MsgTLockCheck, Ok: locked}
	if locked {
		msg.withRecords(holder)
	}
	return msg.setErr(err)
}

// NewAcquireRequest creates a new lock.acquire request
func NewAcquireRequest(key db.Key, ownerID, ownerDisplay string, mode db.Mode, duration time.Duration) *Message {
	msg := &Message{
		MsgType:      MsgTLockAcquire,
		OwnerID:      ownerID,
		OwnerDisplay: ownerDisplay,
		Mode:         uint8(mode),
		DurationMs:   duration.Milliseconds(),
	}
	msg.setKey(key)
	return msg
}

// NewAcquireResponse creates a new lock.acquire response.
// rec is the lease of the caller, or of the holder on conflict.
func NewAcquireResponse(code uint8, ok bool, rec db.Record, err error) *Message {
	msg := &Message{MsgType: MsgTLockAcquire, Code: code, Ok: ok}
	if err == nil {
		msg.withRecords(rec)
	}
	return msg.setErr(err)
}

// NewReleaseRequest creates a new lock.release request
func NewReleaseRequest(key db.Key, ownerID string) *Message {
	msg := &Message{MsgType: MsgTLockRelease, OwnerID: ownerID}
	msg.setKey(key)
	return msg
}

// NewForceReleaseRequest creates a new lock.force request
func NewForceReleaseRequest(key db.Key) *Message {
	msg := &Message{MsgType: MsgTLockForceRelease}
	msg.setKey(key)
	return msg
}

// NewReleaseResponse creates a response to lock.release or lock.force
func NewReleaseResponse(msgType MessageType, success bool, reason uint8, err error) *Message {
	msg := &Message{MsgType: msgType, Ok: success, Code: reason}
	return msg.setErr(err)
}

// NewReleaseAllRequest creates a new lock.releaseAll request
func NewReleaseAllRequest(ownerID string) *Message {
	return &Message{MsgType: MsgTLockReleaseAll, OwnerID: ownerID}
}

// NewSweepRequest creates a new lock.sweep request
func NewSweepRequest() *Message {
	return &Message{MsgType: MsgTLockSweep}
}

// --------------------------------------------------------------------------
// Message Factory Functions (lock store)
// --------------------------------------------------------------------------

// NewFindRequest creates a new store.find request
func NewFindRequest(key db.Key) *Message {
	msg := &Message{MsgType: MsgTStoreFind}
	msg.setKey(key)
	return msg
}

// NewFindResponse creates a new store.find response
func NewFindResponse(rec db.Record, found bool, err error) *Message {
	msg := &Message{MsgType: MsgTStoreFind, Ok: found}
	if found {
		msg.withRecords(rec)
	}
	return msg.setErr(err)
}

// NewListOwnerRequest creates a new store.listOwner request
func NewListOwnerRequest(ownerID string) *Message {
	return &Message{MsgType: MsgTStoreListOwner, OwnerID: ownerID}
}

// NewListOwnerResponse creates a new store.listOwner response
func NewListOwnerResponse(recs []db.Record, err error) *Message {
	msg := &Message{MsgType: MsgTStoreListOwner}
	msg.withRecords(recs...)
	return msg.setErr(err)
}

// NewInsertRequest creates a new store.insert request
func NewInsertRequest(rec db.Record) *Message {
	msg := &Message{MsgType: MsgTStoreInsert}
	return msg.withRecords(rec)
}

// NewUpdateRequest creates a new store.update request
func NewUpdateRequest(key db.Key, recordID string, upd db.Update) *Message {
	msg := &Message{
		MsgType:      MsgTStoreUpdate,
		RecordID:     recordID,
		OwnerDisplay: upd.OwnerDisplay,
		Mode:         uint8(upd.Mode),
		AcquiredAt:   db.EncodeTime(upd.AcquiredAt),
		ExpiresAt:    db.EncodeTime(upd.ExpiresAt),
	}
	msg.setKey(key)
	return msg
}

// Update returns the db.Update carried by a store.update request
func (m *Message) Update() db.Update {
	return db.Update{
		OwnerDisplay: m.OwnerDisplay,
		Mode:         db.Mode(m.Mode),
		AcquiredAt:   db.DecodeTime(m.AcquiredAt),
		ExpiresAt:    db.DecodeTime(m.ExpiresAt),
	}
}

// NewDeleteRequest creates a new store.delete request
func NewDeleteRequest(key db.Key, cond db.Condition) *Message {
	msg := &Message{
		MsgType:   MsgTStoreDelete,
		RecordID:  cond.RecordID,
		OwnerID:   cond.OwnerID,
		Timestamp: db.EncodeTime(cond.ExpiredAt),
	}
	msg.setKey(key)
	return msg
}

// Condition returns the db.Condition carried by a store.delete request
func (m *Message) Condition() db.Condition {
	return db.Condition{
		RecordID:  m.RecordID,
		OwnerID:   m.OwnerID,
		ExpiredAt: db.DecodeTime(m.Timestamp),
	}
}

// NewDeleteOwnerRequest creates a new store.deleteOwner request
func NewDeleteOwnerRequest(ownerID string) *Message {
	return &Message{MsgType: MsgTStoreDeleteOwner, OwnerID: ownerID}
}

// NewDeleteExpiredRequest creates a new store.deleteExpired request
func NewDeleteExpiredRequest(ts time.Time) *Message {
	return &Message{MsgType: MsgTStoreDeleteExpired, Timestamp: db.EncodeTime(ts)}
}

// NewGetInfoRequest creates a new store.getInfo request
func NewGetInfoRequest() *Message {
	return &Message{MsgType: MsgTStoreGetInfo}
}

// NewGetInfoResponse creates a new store.getInfo response.
// Only the record count is transferred.
func NewGetInfoResponse(info db.TableInfo, err error) *Message {
	msg := &Message{MsgType: MsgTStoreGetInfo, Count: int64(info.Records)}
	return msg.setErr(err)
}

// --------------------------------------------------------------------------
// Generic Responses
// --------------------------------------------------------------------------

// NewOkResponse creates a response carrying only a boolean result
func NewOkResponse(msgType MessageType, ok bool, err error) *Message {
	msg := &Message{MsgType: msgType, Ok: ok}
	return msg.setErr(err)
}

// NewCountResponse creates a response carrying only a count
func NewCountResponse(msgType MessageType, count int, err error) *Message {
	msg := &Message{MsgType: msgType, Count: int64(count)}
	return msg.setErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err error) *Message {
	msg := &Message{MsgType: MsgTError}
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	return msg.setErr(err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTSuccess:            "success",
	MsgTError:              "error",
	MsgTLockCheck:          "lock.check",
	MsgTLockAcquire:        "lock.acquire",
	MsgTLockRelease:        "lock.release",
	MsgTLockForceRelease:   "lock.force",
	MsgTLockReleaseAll:     "lock.releaseAll",
	MsgTLockSweep:          "lock.sweep",
	MsgTStoreFind:          "store.find",
	MsgTStoreListOwner:     "store.listOwner",
	MsgTStoreInsert:        "store.insert",
	MsgTStoreUpdate:        "store.update",
	MsgTStoreDelete:        "store.delete",
	MsgTStoreDeleteOwner:   "store.deleteOwner",
	MsgTStoreDeleteExpired: "store.deleteExpired",
	MsgTStoreGetInfo:       "store.getInfo",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for typ, name := range msgTypeNames {
		if name == s {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// ILockManager operations

	MsgTLockCheck        // Check a lease
	MsgTLockAcquire      // Acquire or refresh a lease
	MsgTLockRelease      // Release an owned lease
	MsgTLockForceRelease // Release a lease regardless of owner
	MsgTLockReleaseAll   // Release all leases of an owner
	MsgTLockSweep        // Delete all expired leases

	// ILockStore operations

	MsgTStoreFind          // Find a record by key
	MsgTStoreListOwner     // List the records of an owner
	MsgTStoreInsert        // Insert a record if the key is free
	MsgTStoreUpdate        // Update a record in place
	MsgTStoreDelete        // Delete a record on condition
	MsgTStoreDeleteOwner   // Delete all records of an owner
	MsgTStoreDeleteExpired // Delete all expired records
	MsgTStoreGetInfo       // Table metadata
)
