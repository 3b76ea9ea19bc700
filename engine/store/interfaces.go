package store

import "context"

// Store is the contract every backend satisfies. A Store owns exactly one
// resource handle between Connect and Disconnect and is not shared.
type Store interface {
	// Connect acquires the backend resource. A second call on a connected
	// store fails with ErrAlreadyConnected.
	Connect(ctx context.Context) error
	// Insert persists a new record. Empty emails fail with ErrValidation and
	// an existing email fails with ErrDuplicate, leaving the stored record
	// untouched.
	Insert(ctx context.Context, rec *Record) error
	// Remove deletes the record for email, failing with ErrNotFound when
	// there is none.
	Remove(ctx context.Context, email string) error
	// Get returns the record for email or ErrNotFound.
	Get(ctx context.Context, email string) (*Record, error)
	// List returns every stored record.
	List(ctx context.Context) ([]*Record, error)
	// Disconnect releases the resource. It never fails; cleanup errors are
	// logged.
	Disconnect(ctx context.Context)
	// Backend reports which implementation this is.
	Backend() Backend
}
