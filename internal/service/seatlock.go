package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/iliyamo/studyhall-marketplace/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it still holds our token, so a
// checkout that outlived its TTL never frees someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// SeatLocker serialises checkouts of the same seat across instances with a
// short Redis lock.  The lock only keeps concurrent checkouts from piling
// up on the seat row; the overlap check inside the database transaction
// is what prevents double booking.  Without Redis, or when Redis fails,
// checkouts proceed unlocked.
type SeatLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.Logger
	token func() string
}

func NewSeatLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *SeatLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SeatLocker{rdb: rdb, ttl: ttl, log: log, token: uuid.NewString}
}

func seatLockKey(seatID uint64) string { return "seatlock:" + strconv.FormatUint(seatID, 10) }

// Acquire takes the checkout lock of seatID.  The returned release func is
// always non-nil and safe to call once the checkout is done.
func (l *SeatLocker) Acquire(ctx context.Context, seatID uint64) (func(), error) {
	noop := func() {}
	if l == nil || l.rdb == nil {
		return noop, nil
	}
	key := seatLockKey(seatID)
	token := l.token()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.log.Warn("seatlock: redis unavailable, continuing without lock", zap.Uint64("seat_id", seatID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return noop, ErrSeatLocked
	}
	start := time.Now()
	return func() {
		monitoring.TrackSeatLock(time.Since(start))
		// the request context may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn("seatlock: release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
