package sessions

import (
	"context"

	"github.com/google/uuid"
)

// Placer is the port through which the sessions domain asks the scheduler
// to bind a freshly created session to a work pool. Keeping it here avoids
// an import cycle with the scheduler package.
type Placer interface {
	// Place binds the session to requestedPool when given, otherwise to the
	// best-fit active pool, and fills unset session fields from the pool
	// defaults. It never binds a worker.
	Place(ctx context.Context, sessionID uuid.UUID, requestedPool *uuid.UUID) error
}
