// Package portal defines the verbs the pipeline needs from the maintenance
// portal and the data that tells it where fields live on a result page.
package portal

import (
	"context"
	"errors"
	"time"

	"maintscraper/internal/core/record"
)

// ErrSecondFactorTimeout is returned by AwaitSecondFactor when confirmation
// does not arrive within the allotted time.
var ErrSecondFactorTimeout = errors.New("second factor not confirmed in time")

// Locator addresses one element of the result page (a CSS selector).
type Locator string

// Surface is everything the pipeline asks of an authenticated portal page.
type Surface interface {
	// Authenticated reports whether the current browser state is already
	// signed in, so no interactive login is needed.
	Authenticated(ctx context.Context) (bool, error)
	SubmitCredentials(ctx context.Context, username, password string) error
	AwaitSecondFactor(ctx context.Context, timeout time.Duration) error
	SetSearchContext(ctx context.Context, kind record.Kind) error
	SubmitQuery(ctx context.Context, key string) error
	// ReadFieldAt returns the trimmed text at loc on the current result
	// page, or false when nothing is there.
	ReadFieldAt(ctx context.Context, loc Locator) (string, bool)
}
