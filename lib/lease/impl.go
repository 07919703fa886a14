package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

const (
	DefaultDuration    = 15 * time.Minute
	DefaultMaxDuration = 24 * time.Hour

	// maxAttempts bounds how often a decision is restarted after losing a race
	maxAttempts = 3
)

var log = logger.GetLogger("lease")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures a lock manager.
type Option func(*managerImpl)

// WithClock sets the time source (default SystemClock).
func WithClock(c Clock) Option {
	return func(m *managerImpl) { m.clock = c }
}

// WithDefaultDuration sets the lease duration used when a request asks for none.
func WithDefaultDuration(d time.Duration) Option {
	return func(m *managerImpl) {
		if d > 0 {
			m.defaultDuration = d
		}
	}
}

// WithMaxDuration sets the upper bound of a lease; longer requests are clamped.
func WithMaxDuration(d time.Duration) Option {
	return func(m *managerImpl) {
		if d > 0 {
			m.maxDuration = d
		}
	}
}

// WithResourceTypes restricts the accepted resource types. Without types every
// non-empty type is accepted.
func WithResourceTypes(types ...db.ResourceType) Option {
	return func(m *managerImpl) {
		m.resourceTypes = make(map[db.ResourceType]struct{}, len(types))
		for _, t := range types {
			m.resourceTypes[t] = struct{}{}
		}
	}
}

// WithMetrics records the manager's counters in metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *managerImpl) { m.metrics = metrics }
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

type managerImpl struct {
	store           store.ILockStore
	clock           Clock
	defaultDuration time.Duration
	maxDuration     time.Duration
	resourceTypes   map[db.ResourceType]struct{}
	metrics         *Metrics
}

// NewLockManager returns a lock manager working on s.
//
// The manager keeps no lock state of its own, so any number of managers (in any number of
// processes) may share one store.
func NewLockManager(s store.ILockStore, opts ...Option) ILockManager {
	m := &managerImpl{
		store:           s,
		clock:           SystemClock{},
		defaultDuration: DefaultDuration,
		maxDuration:     DefaultMaxDuration,
		resourceTypes:   map[db.ResourceType]struct{}{db.ResourceTypeCourse: {}},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaultDuration > m.maxDuration {
		m.defaultDuration = m.maxDuration
	}
	return m
}

func (m *managerImpl) validKey(key db.Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(m.resourceTypes) > 0 {
		if _, ok := m.resourceTypes[key.ResourceType]; !ok {
			return fmt.Errorf("%w: resource type %q is not allowed", ErrInvalidKey, key.ResourceType)
		}
	}
	return nil
}

func validOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrInvalidOwner
	}
	return nil
}

// leaseDuration applies the default and the upper bound to a requested duration
func (m *managerImpl) leaseDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return m.defaultDuration
	}
	if d > m.maxDuration {
		return m.maxDuration
	}
	return d
}

func (m *managerImpl) fail(op string, err error) error {
	m.metrics.storeError()
	log.Warningf("%s: store error: %v", op, err)
	return storeError(op, err)
}

func (m *managerImpl) CheckLock(ctx context.Context, key db.Key) (Status, error) {
	defer m.metrics.observe("check", time.Now())
	if err := m.validKey(key); err != nil {
		return Status{}, err
	}

	rec, found, err := m.store.FindByKey(ctx, key)
	if err != nil {
		return Status{}, m.fail("check", err)
	}
	if !found {
		return Status{Locked: false}, nil
	}

	now := m.clock.Now()
	if rec.Live(now) {
		return Status{Locked: true, Record: rec}, nil
	}

	// reconcile: the expired record must not outlive this observation, but only this
	// exact record may go (it could have been replaced since the read)
	if _, err := m.store.DeleteByKey(ctx, key, db.Condition{RecordID: rec.ID, ExpiredAt: now}); err != nil {
		m.metrics.storeError()
		log.Warningf("check: could not delete expired lock %s: %v", key, err)
	}
	return Status{Locked: false}, nil
}

func (m *managerImpl) AcquireLock(ctx context.Context, req AcquireRequest) (AcquireResult, error) {
	defer m.metrics.observe("acquire", time.Now())
	if err := m.validKey(req.Key); err != nil {
		return AcquireResult{}, err
	}
	if err := validOwner(req.OwnerID); err != nil {
		return AcquireResult{}, err
	}
	if req.Mode != db.ModeWrite && req.Mode != db.ModeRead {
		return AcquireResult{}, fmt.Errorf("%w: %s", ErrInvalidMode, req.Mode)
	}
	duration := m.leaseDuration(req.Duration)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, done, err := m.tryAcquire(ctx, req, duration)
		if err != nil {
			return AcquireResult{}, err
		}
		if done {
			m.metrics.acquired(res.Code)
			return res, nil
		}
		log.Debugf("acquire %s for %s: lost a race (attempt %d/%d)", req.Key, req.OwnerID, attempt, maxAttempts)
	}
	return AcquireResult{}, fmt.Errorf("acquire %s: %w", req.Key, ErrContention)
}

// tryAcquire runs one decision against a single read of the key.
// done is false if a conditional write lost against a concurrent change.
func (m *managerImpl) tryAcquire(ctx context.Context, req AcquireRequest, duration time.Duration) (res AcquireResult, done bool, err error) {
	existing, found, err := m.store.FindByKey(ctx, req.Key)
	if err != nil {
		return res, false, m.fail("acquire", err)
	}
	now := m.clock.Now()

	// free key
	if !found {
		return m.create(ctx, req, now, duration, AcquireAcquired)
	}

	// re-entrant refresh (also of an expired lease of the same owner)
	if existing.OwnerID == req.OwnerID {
		upd := db.Update{
			OwnerDisplay: req.OwnerDisplay,
			Mode:         req.Mode,
			AcquiredAt:   now,
			ExpiresAt:    now.Add(duration),
		}
		// a refresh never shortens the running lease
		if upd.ExpiresAt.Before(existing.ExpiresAt) {
			upd.ExpiresAt = existing.ExpiresAt
		}
		ok, err := m.store.UpdateInPlace(ctx, req.Key, existing.ID, upd)
		if err != nil {
			return res, false, m.fail("acquire", err)
		}
		if !ok {
			return res, false, nil
		}
		return AcquireResult{Code: AcquireRefreshed, Record: upd.Apply(existing)}, true, nil
	}

	// held by someone else
	if existing.Live(now) {
		return AcquireResult{Code: AcquireConflict, Record: existing}, true, nil
	}

	// abandoned: delete exactly the record that was read, and only while it is still expired
	ok, err := m.store.DeleteByKey(ctx, req.Key, db.Condition{RecordID: existing.ID, ExpiredAt: now})
	if err != nil {
		return res, false, m.fail("acquire", err)
	}
	if !ok {
		return res, false, nil
	}
	log.Debugf("acquire %s: reclaimed expired lock of %s", req.Key, existing.OwnerID)
	return m.create(ctx, req, now, duration, AcquireReclaimed)
}

// create inserts a new lease for the requester if the key is free
func (m *managerImpl) create(ctx context.Context, req AcquireRequest, now time.Time, duration time.Duration, code AcquireCode) (AcquireResult, bool, error) {
	rec := db.Record{
		ID:           newRecordID(),
		Key:          req.Key,
		OwnerID:      req.OwnerID,
		OwnerDisplay: req.OwnerDisplay,
		Mode:         req.Mode,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(duration),
	}
	ok, err := m.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return AcquireResult{}, false, m.fail("acquire", err)
	}
	if !ok {
		return AcquireResult{}, false, nil
	}
	return AcquireResult{Code: code, Record: rec}, true, nil
}

func (m *managerImpl) ReleaseLock(ctx context.Context, key db.Key, ownerID string) (ReleaseResult, error) {
	defer m.metrics.observe("release", time.Now())
	if err := m.validKey(key); err != nil {
		return ReleaseResult{}, err
	}
	if err := validOwner(ownerID); err != nil {
		return ReleaseResult{}, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec, found, err := m.store.FindByKey(ctx, key)
		if err != nil {
			return ReleaseResult{}, m.fail("release", err)
		}
		if !found {
			res := notReleased(ReleaseNotFound)
			m.metrics.released(res, false)
			return res, nil
		}
		if rec.OwnerID != ownerID {
			res := notReleased(ReleaseNotOwner)
			m.metrics.released(res, false)
			return res, nil
		}

		ok, err := m.store.DeleteByKey(ctx, key, db.Condition{RecordID: rec.ID, OwnerID: ownerID})
		if err != nil {
			return ReleaseResult{}, m.fail("release", err)
		}
		if ok {
			res := released()
			m.metrics.released(res, false)
			return res, nil
		}
	}
	return ReleaseResult{}, fmt.Errorf("release %s: %w", key, ErrContention)
}

func (m *managerImpl) ForceRelease(ctx context.Context, key db.Key) (ReleaseResult, error) {
	defer m.metrics.observe("force_release", time.Now())
	if err := m.validKey(key); err != nil {
		return ReleaseResult{}, err
	}

	ok, err := m.store.DeleteByKey(ctx, key, db.Condition{})
	if err != nil {
		return ReleaseResult{}, m.fail("force release", err)
	}
	res := notReleased(ReleaseNotFound)
	if ok {
		res = released()
		log.Infof("force released %s", key)
	}
	m.metrics.released(res, true)
	return res, nil
}

func (m *managerImpl) ReleaseAllForOwner(ctx context.Context, ownerID string) (int, error) {
	defer m.metrics.observe("release_all", time.Now())
	if err := validOwner(ownerID); err != nil {
		return 0, err
	}

	n, err := m.store.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return n, m.fail("release all", err)
	}
	for i := 0; i < n; i++ {
		m.metrics.released(released(), false)
	}
	return n, nil
}

func (m *managerImpl) SweepExpired(ctx context.Context) (int, error) {
	defer m.metrics.observe("sweep", time.Now())

	n, err := m.store.DeleteExpiredBefore(ctx, m.clock.Now())
	if err != nil {
		return n, m.fail("sweep", err)
	}
	m.metrics.swept(n)
	return n, nil
}
