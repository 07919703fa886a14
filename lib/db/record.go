package db

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Resource Key
// --------------------------------------------------------------------------

// ResourceType is the tag naming the logical collection a resource id belongs to.
type ResourceType string

const (
	ResourceTypeCourse ResourceType = "Course"
)

// Key identifies a lockable resource.
type Key struct {
	ResourceID   string       `json:"resource_id"`
	ResourceType ResourceType `json:"resource_type"`
}

// NewKey is a shorthand for Key{ResourceID: id, ResourceType: typ}
func NewKey(typ ResourceType, id string) Key {
	return Key{ResourceID: id, ResourceType: typ}
}

// String renders the key as "<type>/<id>".
func (k Key) String() string {
	return string(k.ResourceType) + "/" + k.ResourceID
}

// Valid reports whether both parts of the key are non-empty.
// The type must not contain a slash, so that String() stays unambiguous.
func (k Key) Valid() bool {
	return strings.TrimSpace(k.ResourceID) != "" &&
		strings.TrimSpace(string(k.ResourceType)) != "" &&
		!strings.Contains(string(k.ResourceType), "/")
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, "/")
	k := Key{ResourceType: ResourceType(typ), ResourceID: id}
	if !ok || !k.Valid() {
		return Key{}, fmt.Errorf("invalid key %q (expected <type>/<id>)", s)
	}
	return k, nil
}

// --------------------------------------------------------------------------
// Lock Mode
// --------------------------------------------------------------------------

// Mode is the requested access mode of a lock.
// Only WRITE exclusion is enforced; READ is carried as metadata.
type Mode uint8

const (
	ModeWrite Mode = iota
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "WRITE"
	case ModeRead:
		return "READ"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// ParseMode parses "write"/"read" (case-insensitive). The empty string is WRITE.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "WRITE":
		return ModeWrite, nil
	case "READ":
		return ModeRead, nil
	default:
		return ModeWrite, fmt.Errorf("invalid lock mode %q (expected write or read)", s)
	}
}

// --------------------------------------------------------------------------
// Lock Record
// --------------------------------------------------------------------------

// Record is the persisted unit of mutual exclusion for one Key.
type Record struct {
	ID           string    `json:"id"`
	Key          Key       `json:"key"`
	OwnerID      string    `json:"owner_id"`
	OwnerDisplay string    `json:"owner_display"`
	Mode         Mode      `json:"mode"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Live reports whether the lease is still running at now (now < ExpiresAt).
func (r Record) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Expired reports whether the lease is over at now (now >= ExpiresAt).
func (r Record) Expired(now time.Time) bool {
	return !r.Live(now)
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if !r.Key.Valid() {
		return fmt.Errorf("record: invalid key %q", r.Key)
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("record: owner id required")
	}
	if !r.ExpiresAt.After(r.AcquiredAt) {
		return fmt.Errorf("record: expiresAt (%s) must be after acquiredAt (%s)", r.ExpiresAt, r.AcquiredAt)
	}
	return nil
}

// Update holds the fields a refresh rewrites in place.
type Update struct {
	OwnerDisplay string
	Mode         Mode
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

// Apply returns a copy of r with the update applied.
func (u Update) Apply(r Record) Record {
	r.OwnerDisplay = u.OwnerDisplay
	r.Mode = u.Mode
	r.AcquiredAt = u.AcquiredAt
	r.ExpiresAt = u.ExpiresAt
	return r
}

// Condition restricts a delete. Zero-valued fields are not checked,
// so the zero Condition matches every record.
type Condition struct {
	RecordID  string    // stored record must have this id
	OwnerID   string    // stored record must be owned by this owner
	ExpiredAt time.Time // stored record must be expired at this instant
}

// Matches reports whether rec satisfies the condition.
func (c Condition) Matches(rec Record) bool {
	if c.RecordID != "" && rec.ID != c.RecordID {
		return false
	}
	if c.OwnerID != "" && rec.OwnerID != c.OwnerID {
		return false
	}
	if !c.ExpiredAt.IsZero() && !rec.Expired(c.ExpiredAt) {
		return false
	}
	return true
}

// --------------------------------------------------------------------------
// Binary encoding
// --------------------------------------------------------------------------

// Record wire format:
// 1 byte mode,
// 8 bytes acquiredAt (unix nanos, big endian),
// 8 bytes expiresAt (unix nanos, big endian),
// then 5 length prefixed strings (4 byte length each):
// id, resourceType, resourceID, ownerID, ownerDisplay
const recordHeaderSize = 1 + 8 + 8

// SizeBytes returns the exact number of bytes MarshalBinary produces.
func (r Record) SizeBytes() int {
	return recordHeaderSize +
		4 + len(r.ID) +
		4 + len(r.Key.ResourceType) +
		4 + len(r.Key.ResourceID) +
		4 + len(r.OwnerID) +
		4 + len(r.OwnerDisplay)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, r.SizeBytes())
	buf[0] = byte(r.Mode)
	binary.BigEndian.PutUint64(buf[1:9], uint64(EncodeTime(r.AcquiredAt)))
	binary.BigEndian.PutUint64(buf[9:17], uint64(EncodeTime(r.ExpiresAt)))
	pos := recordHeaderSize
	for _, s := range []string{r.ID, string(r.Key.ResourceType), r.Key.ResourceID, r.OwnerID, r.OwnerDisplay} {
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(s)))
		pos += 4
		pos += copy(buf[pos:], s)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < recordHeaderSize {
		return fmt.Errorf("data too short for record header")
	}
	r.Mode = Mode(data[0])
	r.AcquiredAt = DecodeTime(int64(binary.BigEndian.Uint64(data[1:9])))
	r.ExpiresAt = DecodeTime(int64(binary.BigEndian.Uint64(data[9:17])))

	pos := recordHeaderSize
	fields := make([]string, 5)
	for i := range fields {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for record field %d length", i)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+n > len(data) {
			return fmt.Errorf("data too short for record field %d", i)
		}
		fields[i] = string(data[pos : pos+n])
		pos += n
	}
	r.ID = fields[0]
	r.Key = Key{ResourceType: ResourceType(fields[1]), ResourceID: fields[2]}
	r.OwnerID = fields[3]
	r.OwnerDisplay = fields[4]
	return nil
}

// EncodeTime converts t to unix nanoseconds; the zero time becomes 0.
func EncodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// DecodeTime is the inverse of EncodeTime. Decoded times are in UTC.
func DecodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
