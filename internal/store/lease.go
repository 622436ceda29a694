package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

// Lease grants one owner exclusive execution of a schedule across processes.
// It expires unless renewed, so a crashed owner eventually frees it
type Lease struct {
	store      *Store
	key        string
	owner      string
	scheduleID api.ScheduleID
	ttl        time.Duration
}

var (
	ErrLeaseHeld       = errors.New("schedule lease held by another owner")
	ErrLeaseLost       = errors.New("schedule lease lost")
	ErrInvalidLeaseTTL = errors.New("lease TTL must be positive")
)

var (
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
)

// NewLease prepares a lease for the schedule owned by a fresh random token
func NewLease(s *Store, id api.ScheduleID, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, ErrInvalidLeaseTTL
	}
	return &Lease{
		store:      s,
		key:        LeaseKey(id),
		owner:      uuid.NewString(),
		scheduleID: id,
		ttl:        ttl,
	}, nil
}

// Owner returns the token identifying this lease holder
func (l *Lease) Owner() string {
	return l.owner
}

// Acquire takes the lease, failing with ErrLeaseHeld if another owner has it
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.store.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	return nil
}

// Renew extends the lease, failing with ErrLeaseLost if it expired or
// changed hands
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(
		ctx, l.store.client, []string{l.key}, l.owner, l.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if still owned. Releasing a lost lease is a no-op
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(
		ctx, l.store.client, []string{l.key}, l.owner,
	).Err()
}

// Keep renews the lease at a third of its TTL until ctx is done. onLost is
// called once if a renewal fails
func (l *Lease) Keep(ctx context.Context, onLost func(error)) {
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Failed to renew schedule lease",
					log.ScheduleID(l.scheduleID),
					log.Error(err))
				if !errors.Is(err, ErrLeaseLost) {
					err = fmt.Errorf("%w: %w", ErrLeaseLost, err)
				}
				onLost(err)
				return
			}
		}
	}
}
