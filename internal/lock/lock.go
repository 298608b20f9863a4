// Package lock provides advisory leases used to serialize analysis runs per
// session and concept creation per name.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when the key is already leased by another holder
var ErrLocked = errors.New("lock is held")

// Locker hands out expiring, exclusive leases on string keys
type Locker interface {
	// TryAcquire takes the lease or fails immediately with ErrLocked
	TryAcquire(ctx context.Context, key string) (*Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	Key     string
	token   string
	release func(ctx context.Context, key, token string) error
}

// Release gives the lease back if it is still ours
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release(ctx, l.Key, l.token)
}

func newToken() string {
	return uuid.NewString()
}

// Acquire waits for the lease, polling every poll until ctx is done
func Acquire(ctx context.Context, l Locker, key string, poll time.Duration) (*Lease, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		lease, err := l.TryAcquire(ctx, key)
		if !errors.Is(err, ErrLocked) {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// SessionKey is the lease key serializing analyses of one session
func SessionKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

// ConceptNameKey is the lease key serializing creation of one concept name.
// name must already be normalized.
func ConceptNameKey(name string) string {
	return "concept-name:" + name
}
