package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: MsgType (1 byte) | flags (2 bytes, big endian) | present fields in flag order.
// Strings and byte slices are prefixed with a 4 byte length, integers are 8 bytes big
// endian, Mode, Code and ErrKind are a single byte. Ok is carried by its flag alone.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasResourceType uint16 = 1 << iota
	hasResourceID
	hasOwnerID
	hasOwnerDisplay
	hasMode
	hasRecordID
	hasDuration
	hasAcquiredAt
	hasExpiresAt
	hasTimestamp
	hasOk
	hasCode
	hasCount
	hasRecords
	hasErr
	hasErrKind
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	w := binaryWriter{buf: make([]byte, b.sizeBytes(msg)), pos: headerSize}

	// Write message type
	w.buf[0] = byte(msg.MsgType)

	var flags uint16

	if msg.ResourceType != "" {
		flags |= hasResourceType
		w.putString(msg.ResourceType)
	}
	if msg.ResourceID != "" {
		flags |= hasResourceID
		w.putString(msg.ResourceID)
	}
	if msg.OwnerID != "" {
		flags |= hasOwnerID
		w.putString(msg.OwnerID)
	}
	if msg.OwnerDisplay != "" {
		flags |= hasOwnerDisplay
		w.putString(msg.OwnerDisplay)
	}
	if msg.Mode != 0 {
		flags |= hasMode
		w.putByte(msg.Mode)
	}
	if msg.RecordID != "" {
		flags |= hasRecordID
		w.putString(msg.RecordID)
	}
	if msg.DurationMs != 0 {
		flags |= hasDuration
		w.putInt64(msg.DurationMs)
	}
	if msg.AcquiredAt != 0 {
		flags |= hasAcquiredAt
		w.putInt64(msg.AcquiredAt)
	}
	if msg.ExpiresAt != 0 {
		flags |= hasExpiresAt
		w.putInt64(msg.ExpiresAt)
	}
	if msg.Timestamp != 0 {
		flags |= hasTimestamp
		w.putInt64(msg.Timestamp)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Code != 0 {
		flags |= hasCode
		w.putByte(msg.Code)
	}
	if msg.Count != 0 {
		flags |= hasCount
		w.putInt64(msg.Count)
	}
	if len(msg.Records) > 0 {
		flags |= hasRecords
		w.putUint32(uint32(len(msg.Records)))
		for _, rec := range msg.Records {
			w.putBytes(rec)
		}
	}
	if msg.Err != "" {
		flags |= hasErr
		w.putString(msg.Err)
	}
	if msg.ErrKind != common.ErrKindNone {
		flags |= hasErrKind
		w.putByte(uint8(msg.ErrKind))
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	// Reset the message, absent fields are zero
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binaryReader{data: data, pos: headerSize}

	if flags&hasResourceType != 0 {
		msg.ResourceType = r.string("resource type")
	}
	if flags&hasResourceID != 0 {
		msg.ResourceID = r.string("resource id")
	}
	if flags&hasOwnerID != 0 {
		msg.OwnerID = r.string("owner id")
	}
	if flags&hasOwnerDisplay != 0 {
		msg.OwnerDisplay = r.string("owner display")
	}
	if flags&hasMode != 0 {
		msg.Mode = r.byte("mode")
	}
	if flags&hasRecordID != 0 {
		msg.RecordID = r.string("record id")
	}
	if flags&hasDuration != 0 {
		msg.DurationMs = r.int64("duration")
	}
	if flags&hasAcquiredAt != 0 {
		msg.AcquiredAt = r.int64("acquiredAt")
	}
	if flags&hasExpiresAt != 0 {
		msg.ExpiresAt = r.int64("expiresAt")
	}
	if flags&hasTimestamp != 0 {
		msg.Timestamp = r.int64("timestamp")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasCode != 0 {
		msg.Code = r.byte("code")
	}
	if flags&hasCount != 0 {
		msg.Count = r.int64("count")
	}
	if flags&hasRecords != 0 {
		n := r.uint32("record count")
		// every record needs at least its length prefix
		if r.err == nil && int(n) > (len(data)-r.pos)/4 {
			return fmt.Errorf("data too short for %d records", n)
		}
		if r.err == nil {
			msg.Records = make([][]byte, n)
			for i := range msg.Records {
				msg.Records[i] = r.bytes("record")
			}
		}
	}
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}
	if flags&hasErrKind != 0 {
		msg.ErrKind = common.ErrKind(r.byte("error kind"))
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 2 bytes for flags
	size := headerSize

	// Add sizes for fields that require length encoding
	for _, s := range []string{msg.ResourceType, msg.ResourceID, msg.OwnerID, msg.OwnerDisplay, msg.RecordID, msg.Err} {
		if s != "" {
			size += 4 + len(s) // 4 bytes for length + string
		}
	}
	for _, v := range []int64{msg.DurationMs, msg.AcquiredAt, msg.ExpiresAt, msg.Timestamp, msg.Count} {
		if v != 0 {
			size += 8 // int64
		}
	}
	for _, v := range []uint8{msg.Mode, msg.Code, uint8(msg.ErrKind)} {
		if v != 0 {
			size += 1
		}
	}
	if len(msg.Records) > 0 {
		size += 4 // record count
		for _, rec := range msg.Records {
			size += 4 + len(rec)
		}
	}

	return size
}

// binaryWriter writes into a buffer that was sized by sizeBytes
type binaryWriter struct {
	buf []byte
	pos int
}

func (w *binaryWriter) putByte(v uint8) {
	w.buf[w.pos] = v
	w.pos++
}

func (w *binaryWriter) putUint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.pos:w.pos+4], v)
	w.pos += 4
}

func (w *binaryWriter) putInt64(v int64) {
	binary.BigEndian.PutUint64(w.buf[w.pos:w.pos+8], uint64(v))
	w.pos += 8
}

func (w *binaryWriter) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.pos += copy(w.buf[w.pos:], b)
}

func (w *binaryWriter) putString(s string) {
	w.putUint32(uint32(len(s)))
	w.pos += copy(w.buf[w.pos:], s)
}

// binaryReader reads fields in order and keeps the first error,
// later reads are no-ops once an error occurred
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binaryReader) byte(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *binaryReader) uint32(field string) uint32 {
	if !r.need(4, field+" length") {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *binaryReader) int64(field string) int64 {
	if !r.need(8, field) {
		return 0
	}
	v := int64(binary.BigEndian.Uint64(r.data[r.pos : r.pos+8]))
	r.pos += 8
	return v
}

func (r *binaryReader) bytes(field string) []byte {
	n := int(r.uint32(field))
	if !r.need(n, field+" data") {
		return nil
	}
	// copy, the caller may reuse data
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *binaryReader) string(field string) string {
	n := int(r.uint32(field))
	if !r.need(n, field+" data") {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}
