package domain

import (
	"context"
	"time"
)

// DistributedLock guards task claims across worker instances. The scheduler
// runs without one by default (single-writer deployment assumption); wiring
// one in is the documented multi-instance enhancement.
type DistributedLock interface {
	Ping(ctx context.Context) (err error)
	Lock(lockKey string, lockTimeDuration time.Duration) (result bool, err error)
	Unlock(lockKey string) (err error)
	Close() error
}
