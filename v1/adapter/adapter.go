// Package adapter persists booking records in shared storage so that several
// orchestrator processes see the same bookings. RedisStore and GormStore
// both implement booking.Store.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/mirkobrombin/go-reserve/v1/booking"
	warperrors "github.com/mirkobrombin/go-reserve/v1/errors"
)

const defaultOpTimeout = 5 * time.Second

var (
	_ booking.Store = (*RedisStore)(nil)
	_ booking.Store = (*GormStore)(nil)
)

// mapErr turns deadline errors into warperrors.ErrTimeout and returns any
// other error unchanged.
func mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return warperrors.ErrTimeout
	}
	return err
}
