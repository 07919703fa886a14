package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store"
)

func TestParseShards(t *testing.T) {
	tests := []struct {
		in      string
		want    []ServerShard
		wantErr bool
	}{
		{in: "1=lstore", want: []ServerShard{{1, ShardTypeLocalStore}}},
		{in: "1=lockmgr(rstore), 2=dstore", want: []ServerShard{{1, ShardTypeRedisLockMgr}, {2, ShardTypeDistributedStore}}},
		{in: "1=lockmgr(dstore)", want: []ServerShard{{1, ShardTypeDistributedLockMgr}}},
		{in: "1=maple", wantErr: true},
		{in: "x=lstore", wantErr: true},
		{in: "1", wantErr: true},
		{in: "1=lstore,1=dstore", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShards(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseShards(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseShards(%q): %v", tt.in, err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ParseShards(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestShardTypeBackend(t *testing.T) {
	tests := []struct {
		typ     ServerShardType
		backend ServerShardType
		mgr     bool
	}{
		{ShardTypeLocalStore, ShardTypeLocalStore, false},
		{ShardTypeRedisStore, ShardTypeRedisStore, false},
		{ShardTypeLocalLockMgr, ShardTypeLocalStore, true},
		{ShardTypeDistributedLockMgr, ShardTypeDistributedStore, true},
		{ShardTypeRedisLockMgr, ShardTypeRedisStore, true},
	}
	for _, tt := range tests {
		if got := tt.typ.Backend(); got != tt.backend {
			t.Errorf("%s.Backend() = %s, want %s", tt.typ, got, tt.backend)
		}
		if got := tt.typ.IsLockManager(); got != tt.mgr {
			t.Errorf("%s.IsLockManager() = %v, want %v", tt.typ, got, tt.mgr)
		}
	}

	cfg := ServerConfig{Shards: []ServerShard{{1, ShardTypeDistributedLockMgr}}}
	if !cfg.HasRemoteShard() || cfg.HasShardType(ShardTypeRedisStore) {
		t.Errorf("HasShardType does not look through lock manager shards")
	}
}

func TestErrKindRoundTrip(t *testing.T) {
	storeDown := store.NewError(store.RetCUnavailable, "redis down")
	tests := []struct {
		name  string
		err   error
		kind  ErrKind
		match []error
	}{
		{"nil", nil, ErrKindNone, nil},
		{"store unavailable", storeDown, ErrKindUnavailable, []error{store.ErrUnavailable}},
		{"store invalid", store.NewError(store.RetCInvalidOperation, "bad"), ErrKindInvalidOperation, nil},
		{"store unsupported", store.NewError(store.RetCUnsupportedOperation, "no"), ErrKindUnsupported, nil},
		{"lease store", fmt.Errorf("check: %w: %w", lease.ErrStoreUnavailable, storeDown), ErrKindStoreUnavailable,
			[]error{lease.ErrStoreUnavailable, store.ErrUnavailable}},
		{"lease store fault", fmt.Errorf("check: %w: %w", lease.ErrStoreUnavailable, store.NewError(store.RetCInternalError, "corrupt")),
			ErrKindStoreFault, []error{lease.ErrStoreUnavailable, store.ErrInternal}},
		{"invalid key", fmt.Errorf("%w: x", lease.ErrInvalidKey), ErrKindInvalidKey, []error{lease.ErrInvalidKey}},
		{"invalid owner", lease.ErrInvalidOwner, ErrKindInvalidOwner, []error{lease.ErrInvalidOwner}},
		{"invalid mode", lease.ErrInvalidMode, ErrKindInvalidMode, []error{lease.ErrInvalidMode}},
		{"contention", lease.ErrContention, ErrKindContention, []error{lease.ErrContention}},
		{"plain", errors.New("boom"), ErrKindInternal, []error{store.ErrInternal}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf = %s, want %s", got, tt.kind)
			}
			msg := NewErrorResponse(tt.err)
			if tt.err == nil {
				msg = NewOkResponse(MsgTSuccess, true, nil)
			}
			rebuilt := msg.Error()
			if (rebuilt == nil) != (tt.err == nil) {
				t.Fatalf("rebuilt error = %v, want %v", rebuilt, tt.err)
			}
			for _, target := range tt.match {
				if !errors.Is(rebuilt, target) {
					t.Errorf("rebuilt error %v does not match %v", rebuilt, target)
				}
			}
			if KindOf(rebuilt) != tt.kind {
				t.Errorf("KindOf(rebuilt) = %s, want %s", KindOf(rebuilt), tt.kind)
			}
			// an internal store fault must not look like an unreachable store
			if tt.kind == ErrKindStoreFault && errors.Is(rebuilt, store.ErrUnavailable) {
				t.Errorf("rebuilt error %v matches store.ErrUnavailable", rebuilt)
			}
		})
	}
}

func TestRequestFields(t *testing.T) {
	key := db.NewKey(db.ResourceTypeCourse, "42")
	now := time.Date(2025, 1, 1, 12, 0, 0, 123, time.UTC)

	upd := db.Update{OwnerDisplay: "Alice", Mode: db.ModeRead, AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	msg := NewUpdateRequest(key, "rec-1", upd)
	if msg.Key() != key || msg.RecordID != "rec-1" {
		t.Errorf("update request lost the key or record id: %+v", msg)
	}
	if got := msg.Update(); got.OwnerDisplay != upd.OwnerDisplay || got.Mode != upd.Mode ||
		!got.AcquiredAt.Equal(upd.AcquiredAt) || !got.ExpiresAt.Equal(upd.ExpiresAt) {
		t.Errorf("Update() = %+v, want %+v", got, upd)
	}

	cond := db.Condition{RecordID: "rec-1", OwnerID: "alice", ExpiredAt: now}
	if got := NewDeleteRequest(key, cond).Condition(); got.RecordID != cond.RecordID ||
		got.OwnerID != cond.OwnerID || !got.ExpiredAt.Equal(cond.ExpiredAt) {
		t.Errorf("Condition() = %+v, want %+v", got, cond)
	}
	if got := NewDeleteRequest(key, db.Condition{}).Condition(); !got.ExpiredAt.IsZero() || got.RecordID != "" {
		t.Errorf("empty condition became %+v", got)
	}

	acq := NewAcquireRequest(key, "alice", "Alice", db.ModeRead, 90*time.Second)
	if acq.Duration() != 90*time.Second || db.Mode(acq.Mode) != db.ModeRead {
		t.Errorf("acquire request fields: %+v", acq)
	}
}

func TestRecordsField(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := db.Record{
		ID:         "rec-1",
		Key:        db.NewKey(db.ResourceTypeCourse, "42"),
		OwnerID:    "alice",
		Mode:       db.ModeWrite,
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Minute),
	}

	got, found, err := NewFindResponse(rec, true, nil).Record()
	if err != nil || !found || got.ID != rec.ID || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("Record() = %+v, %v, %v", got, found, err)
	}
	if _, found, _ := NewFindResponse(db.Record{}, false, nil).Record(); found {
		t.Errorf("not found response carries a record")
	}

	recs, err := DecodeRecords(NewListOwnerResponse([]db.Record{rec, rec}, nil).Records)
	if err != nil || len(recs) != 2 {
		t.Errorf("DecodeRecords = %d records, %v", len(recs), err)
	}
	if _, err := DecodeRecords([][]byte{{1, 2}}); err == nil {
		t.Errorf("DecodeRecords should reject truncated data")
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for typ := MsgTSuccess; typ <= MsgTStoreGetInfo; typ++ {
		b, err := json.Marshal(typ)
		if err != nil {
			t.Fatalf("marshal %d: %v", typ, err)
		}
		var got MessageType
		if err := json.Unmarshal(b, &got); err != nil || got != typ {
			t.Errorf("%s: round trip = %s, %v", typ, got, err)
		}
	}
	var typ MessageType
	if err := json.Unmarshal([]byte(`"kv.set"`), &typ); err == nil {
		t.Errorf("unknown message type accepted")
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("ParseLogLevel(%q): %v", level, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("ParseLogLevel should reject unknown levels")
	}
}

func TestInitLoggersRepeatedly(t *testing.T) {
	// every server of a process initializes the loggers
	for _, level := range []string{"error", "debug", "info"} {
		if err := InitLoggers(level); err != nil {
			t.Fatalf("InitLoggers(%q): %v", level, err)
		}
	}
	if err := InitLoggers("verbose"); err == nil {
		t.Errorf("InitLoggers should reject unknown levels")
	}
}
