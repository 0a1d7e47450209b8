package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateCode is returned by Insert when the short code is already held
// by an active row. The unique index is the only arbiter; callers never
// pre-check existence.
var ErrDuplicateCode = errors.New("short code already in use")

type LinkStorage interface {
	// Insert persists a new link. Returns ErrDuplicateCode when the code is
	// taken by an active row.
	Insert(ctx context.Context, link *ShortLink) error

	// GetActiveByCode returns the active row holding the code, or (nil, nil)
	// when no active row has it. Expiry is not filtered here; callers decide.
	GetActiveByCode(ctx context.Context, code string) (*ShortLink, error)

	// GetByID returns the row regardless of active state, or (nil, nil).
	GetByID(ctx context.Context, id uuid.UUID) (*ShortLink, error)

	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ShortLink, error)

	// Update rewrites the mutable fields (title, description, tags, password,
	// expiry) of a row.
	Update(ctx context.Context, link *ShortLink) error

	// Deactivate soft-deletes the owner's link and returns the row as it was,
	// or (nil, nil) when the row is missing, not owned, or already inactive.
	Deactivate(ctx context.Context, id, ownerID uuid.UUID) (*ShortLink, error)

	// ReleaseIfExpired frees a code held by an active but expired row so it
	// can be reused. Reports whether a row was released.
	ReleaseIfExpired(ctx context.Context, code string, now time.Time) (bool, error)

	// ReleaseExpired frees every expired active code. Used by the reaper.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)

	// RecordClick atomically increments the link's click counter and appends
	// the click event.
	RecordClick(ctx context.Context, event *ClickEvent) error

	Ping(ctx context.Context) error
}
