package serializer

import (
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

var testRecord = db.Record{
	ID:           "rec-1",
	Key:          db.NewKey(db.ResourceTypeCourse, "course-42"),
	OwnerID:      "owner-a",
	OwnerDisplay: "Alice",
	Mode:         db.ModeWrite,
	AcquiredAt:   time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	ExpiresAt:    time.Date(2025, 1, 1, 12, 15, 0, 0, time.UTC),
}

// testMessages creates a set of test messages with different fields filled
func testMessages(t testing.TB) []common.Message {
	recs, err := common.EncodeRecords(testRecord, testRecord)
	if err != nil {
		t.Fatalf("encode records: %v", err)
	}

	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Acquire request
		*common.NewAcquireRequest(testRecord.Key, "owner-a", "Alice", db.ModeRead, 15*time.Minute),

		// Acquire response
		*common.NewAcquireResponse(2, true, testRecord, nil),

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
			ErrKind: common.ErrKindContention,
		},

		// Message with all fields filled
		{
			MsgType:      common.MsgTStoreUpdate,
			ResourceType: "Course",
			ResourceID:   "course-42",
			OwnerID:      "owner-a",
			OwnerDisplay: "Alice",
			Mode:         1,
			RecordID:     "rec-1",
			DurationMs:   900000,
			AcquiredAt:   testRecord.AcquiredAt.UnixNano(),
			ExpiresAt:    testRecord.ExpiresAt.UnixNano(),
			Timestamp:    -1,
			Ok:           true,
			Code:         3,
			Count:        7,
			Records:      recs,
			Err:          "partial failure",
			ErrKind:      common.ErrKindStoreUnavailable,
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages(t)

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestRecordSurvivesRoundTrip checks that a record and the error carried by a message
// can be rebuilt after any serializer
func TestRecordSurvivesRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(*common.NewFindResponse(testRecord, true, nil))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			rec, ok, err := result.Record()
			if err != nil || !ok {
				t.Fatalf("Record() = %v, %v", ok, err)
			}
			if rec.ID != testRecord.ID || rec.Key != testRecord.Key || !rec.ExpiresAt.Equal(testRecord.ExpiresAt) {
				t.Errorf("record mismatch: %+v", rec)
			}
			if result.Error() != nil {
				t.Errorf("unexpected error: %v", result.Error())
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTStoreGetInfo; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
		want common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
			want: common.Message{},
		},
		{
			name: "Ok without other fields",
			msg:  common.Message{MsgType: common.MsgTLockCheck, Ok: true},
			want: common.Message{MsgType: common.MsgTLockCheck, Ok: true},
		},
		{
			name: "Empty records slice is dropped",
			msg:  common.Message{MsgType: common.MsgTStoreListOwner, Records: [][]byte{}},
			want: common.Message{MsgType: common.MsgTStoreListOwner},
		},
		{
			name: "Empty record inside records",
			msg:  common.Message{MsgType: common.MsgTStoreListOwner, Records: [][]byte{{}, {1, 2}}},
			want: common.Message{MsgType: common.MsgTStoreListOwner, Records: [][]byte{{}, {1, 2}}},
		},
		{
			name: "Negative timestamp",
			msg:  common.Message{MsgType: common.MsgTStoreDeleteExpired, Timestamp: -42},
			want: common.Message{MsgType: common.MsgTStoreDeleteExpired, Timestamp: -42},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// stale fields of a reused message must be cleared
			result := common.Message{OwnerID: "stale", Count: 99, Records: [][]byte{{9}}}
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if !reflect.DeepEqual(tc.want, result) {
				t.Errorf("got %+v, want %+v", result, tc.want)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for resource type",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Missing count",
			data:        []byte{1, byte(hasCount >> 8), byte(hasCount & 0xff), 0, 0, 0}, // Count needs 8 bytes
			expectError: true,
		},
		{
			name:        "Too many records",
			data:        []byte{1, byte(hasRecords >> 8), byte(hasRecords & 0xff), 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
