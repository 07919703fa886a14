package rstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultPrefix   = "dlock"
	connectTimeout  = 2 * time.Second
)

var log = logger.GetLogger("store")

// Options configures the redis store
type Options struct {
	Prefix string // Prefix of all keys written by the store ("" = "dlock")
}

type storeImpl struct {
	client    *redis.Client
	prefix    string
	lockPfx   string
	ownerPfx  string
	expiryKey string
}

// NewRedisStore connects to the redis server at url and returns a lock store backed by it.
// The connection is checked with a PING before the store is returned.
func NewRedisStore(url string, opts *Options) (store.ILockStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	prefix := defaultPrefix
	if opts != nil && opts.Prefix != "" {
		prefix = opts.Prefix
	}

	log.Infof("connected redis lock store at %s (prefix %q)", redisOpts.Addr, prefix)
	return &storeImpl{
		client:    client,
		prefix:    prefix,
		lockPfx:   prefix + ":lock:",
		ownerPfx:  prefix + ":owner:",
		expiryKey: prefix + ":expiry",
	}, nil
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

func (s *storeImpl) lockKey(member string) string { return s.lockPfx + member }

func (s *storeImpl) ownerKey(ownerID string) string { return s.ownerPfx + ownerID }

// padTime renders t as zero padded unix nanos, comparable as a string
func padTime(t time.Time) string {
	return fmt.Sprintf("%020d", db.EncodeTime(t))
}

// score is the zset score of an expiry (unix millis, floored)
func score(t time.Time) int64 {
	return db.EncodeTime(t) / int64(time.Millisecond)
}

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return db.DecodeTime(n), nil
}

// decodeRecord builds a record from a lock hash
func decodeRecord(fields map[string]string) (db.Record, error) {
	mode, err := db.ParseMode(fields["mode"])
	if err != nil {
		return db.Record{}, err
	}
	acq, err := parseTime(fields["acq"])
	if err != nil {
		return db.Record{}, fmt.Errorf("acquired at: %w", err)
	}
	exp, err := parseTime(fields["exp"])
	if err != nil {
		return db.Record{}, fmt.Errorf("expires at: %w", err)
	}
	return db.Record{
		ID:           fields["id"],
		Key:          db.NewKey(db.ResourceType(fields["type"]), fields["rid"]),
		OwnerID:      fields["owner"],
		OwnerDisplay: fields["display"],
		Mode:         mode,
		AcquiredAt:   acq,
		ExpiresAt:    exp,
	}, nil
}

// toStoreError maps redis client errors onto the store error taxonomy.
// Replies from the server (script errors, wrong types) are internal errors,
// everything else (network, pool, context) means the store is unavailable.
func toStoreError(err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) && !errors.Is(err, context.DeadlineExceeded) {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return store.NewError(store.RetCUnavailable, err.Error())
}

// run executes a script and returns its integer reply
func (s *storeImpl) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	n, err := script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, toStoreError(err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) FindByKey(ctx context.Context, key db.Key) (db.Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.lockKey(key.String())).Result()
	if err != nil {
		return db.Record{}, false, toStoreError(err)
	}
	if len(fields) == 0 {
		return db.Record{}, false, nil
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		return db.Record{}, false, store.NewError(store.RetCInternalError, fmt.Sprintf("decode %s: %v", key, err))
	}
	return rec, true, nil
}

func (s *storeImpl) ListByOwner(ctx context.Context, ownerID string) ([]db.Record, error) {
	members, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, toStoreError(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, s.lockKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, toStoreError(err)
	}

	recs := make([]db.Record, 0, len(members))
	for i, cmd := range cmds {
		fields := cmd.Val()
		// the record may be gone or re-owned since SMEMBERS
		if len(fields) == 0 || fields["owner"] != ownerID {
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("decode %s: %v", members[i], err))
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *storeImpl) InsertIfAbsent(ctx context.Context, rec db.Record) (bool, error) {
	if err := store.ValidateRecord(rec); err != nil {
		return false, err
	}
	if rec.AcquiredAt.Before(time.Unix(0, 0)) {
		return false, store.NewError(store.RetCInvalidOperation, "record: timestamps before 1970 are not supported")
	}

	member := rec.Key.String()
	n, err := s.run(ctx, insertScript,
		[]string{s.lockKey(member), s.ownerKey(rec.OwnerID), s.expiryKey},
		member,
		rec.ID,
		string(rec.Key.ResourceType),
		rec.Key.ResourceID,
		rec.OwnerID,
		rec.OwnerDisplay,
		rec.Mode.String(),
		padTime(rec.AcquiredAt),
		padTime(rec.ExpiresAt),
		score(rec.ExpiresAt),
	)
	return n == 1, err
}

func (s *storeImpl) UpdateInPlace(ctx context.Context, key db.Key, recordID string, upd db.Update) (bool, error) {
	if recordID == "" {
		return false, nil
	}
	member := key.String()
	n, err := s.run(ctx, updateScript,
		[]string{s.lockKey(member), s.expiryKey},
		member,
		recordID,
		upd.OwnerDisplay,
		upd.Mode.String(),
		padTime(upd.AcquiredAt),
		padTime(upd.ExpiresAt),
		score(upd.ExpiresAt),
	)
	return n == 1, err
}

func (s *storeImpl) DeleteByKey(ctx context.Context, key db.Key, cond db.Condition) (bool, error) {
	expiredAt := ""
	if !cond.ExpiredAt.IsZero() {
		expiredAt = padTime(cond.ExpiredAt)
	}
	member := key.String()
	n, err := s.run(ctx, deleteScript,
		[]string{s.lockKey(member), s.expiryKey},
		member,
		cond.RecordID,
		cond.OwnerID,
		expiredAt,
		s.ownerPfx,
	)
	return n == 1, err
}

func (s *storeImpl) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := s.run(ctx, deleteOwnerScript,
		[]string{s.ownerKey(ownerID), s.expiryKey},
		s.lockPfx,
		ownerID,
	)
	return int(n), err
}

func (s *storeImpl) DeleteExpiredBefore(ctx context.Context, ts time.Time) (int, error) {
	n, err := s.run(ctx, deleteExpiredScript,
		[]string{s.expiryKey},
		s.lockPfx,
		s.ownerPfx,
		score(ts),
		padTime(ts),
	)
	return int(n), err
}

func (s *storeImpl) GetInfo(ctx context.Context) (db.TableInfo, error) {
	n, err := s.client.ZCard(ctx, s.expiryKey).Result()
	if err != nil {
		return db.TableInfo{}, toStoreError(err)
	}
	meta := &struct {
		Prefix string `json:"prefix"`
		Addr   string `json:"addr"`
	}{
		Prefix: s.prefix,
		Addr:   s.client.Options().Addr,
	}
	return db.TableInfo{
		Records:  int(n),
		DbType:   db.ImplRedis,
		Metadata: meta,
	}, nil
}

func (s *storeImpl) Close() error {
	return s.client.Close()
}
