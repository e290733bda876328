package service

import (
	"context"

	"contactlink/internal/models"
)

// ContactStore opens transactions over persisted contacts.
type ContactStore interface {
	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx ContactTx) error) error

	// WithinReadTx runs fn in one read-only transaction. It takes no write
	// locks and never waits for writers to commit.
	WithinReadTx(ctx context.Context, fn func(tx ContactReader) error) error
}

// ContactReader is the set of contact queries. Every read excludes
// soft-deleted rows.
type ContactReader interface {
	// FindByEmailOrPhone returns rows matching either non-nil field.
	FindByEmailOrPhone(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error)

	// FindExactMatch returns the oldest row whose email and phone number
	// both equal the given non-nil values, or nil.
	FindExactMatch(ctx context.Context, email, phoneNumber *string) (*models.Contact, error)

	// FindByID returns the row with the given id, or nil.
	FindByID(ctx context.Context, id int64) (*models.Contact, error)

	// FindByPrimaryID returns the primary followed by its secondaries,
	// ordered by creation time then id.
	FindByPrimaryID(ctx context.Context, primaryID models.PrimaryID) ([]models.Contact, error)
}

// ContactTx adds the write operations available inside a read-write
// transaction.
type ContactTx interface {
	ContactReader

	// Lock serializes transactions that share any of the given keys until
	// commit or rollback.
	Lock(ctx context.Context, keys ...string) error

	// Create inserts a contact. A nil linkedTo creates a primary.
	Create(ctx context.Context, email, phoneNumber *string, linkedTo *models.PrimaryID) (models.Contact, error)

	// UpdateToSecondary demotes a primary and links it to newLinkedID.
	UpdateToSecondary(ctx context.Context, contactID int64, newLinkedID models.PrimaryID) (models.Contact, error)

	// UpdatePrimaryIDOfSecondary repoints a secondary to newLinkedID.
	UpdatePrimaryIDOfSecondary(ctx context.Context, contactID int64, newLinkedID models.PrimaryID) (models.Contact, error)
}
