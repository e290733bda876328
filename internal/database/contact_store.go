package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// ContactStore persists contacts in the contacts table
type ContactStore struct {
	db  *DB
	now func() time.Time
}

var _ service.ContactStore = (*ContactStore)(nil)

// StoreOption configures a ContactStore
type StoreOption func(*ContactStore)

// WithClock overrides the time source used for created_at and updated_at
func WithClock(now func() time.Time) StoreOption {
	return func(s *ContactStore) { s.now = now }
}

// NewContactStore creates a contact store on top of db
func NewContactStore(db *DB, opts ...StoreOption) *ContactStore {
	s := &ContactStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn in a single transaction
func (s *ContactStore) WithinTx(ctx context.Context, fn func(tx service.ContactTx) error) (err error) {
	sqlTx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyDriverError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	tx := &contactTx{q: sqlTx, dialect: s.db.dialect, forUpdate: s.db.dialect.forUpdate, now: s.now}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classifyDriverError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// WithinReadTx runs fn in a single read-only transaction. Rows are read
// without FOR UPDATE and no write lock is taken.
func (s *ContactStore) WithinReadTx(ctx context.Context, fn func(tx service.ContactReader) error) (err error) {
	q, end, err := s.db.dialect.beginRead(ctx, s.db.Conn)
	if err != nil {
		return classifyDriverError(fmt.Errorf("begin read transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = end(false)
			panic(p)
		}
	}()

	if err := fn(&contactTx{q: q, dialect: s.db.dialect, now: s.now}); err != nil {
		_ = end(false)
		return err
	}
	if err := end(true); err != nil {
		return classifyDriverError(fmt.Errorf("end read transaction: %w", err))
	}
	return nil
}

// querier is satisfied by *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type contactTx struct {
	q         querier
	dialect   dialect
	forUpdate string
	now       func() time.Time
}

func (t *contactTx) timestamp() time.Time {
	return t.now().UTC().Truncate(time.Microsecond)
}

// Lock takes the dialect's advisory locks for the given keys
func (t *contactTx) Lock(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return classifyDriverError(t.dialect.lock(ctx, t.q, keys))
}

// FindByEmailOrPhone queries contacts by email or phone number
func (t *contactTx) FindByEmailOrPhone(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if email != nil {
		args = append(args, *email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if phoneNumber != nil {
		args = append(args, *phoneNumber)
		conds = append(conds, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (` + strings.Join(conds, " OR ") + `) AND deleted_at IS NULL
			  ORDER BY created_at, id` + t.forUpdate
	return t.queryContacts(ctx, query, args...)
}

// FindExactMatch queries the oldest contact carrying both values
func (t *contactTx) FindExactMatch(ctx context.Context, email, phoneNumber *string) (*models.Contact, error) {
	if email == nil || phoneNumber == nil {
		return nil, nil
	}
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE email = $1 AND phone_number = $2 AND deleted_at IS NULL
			  ORDER BY created_at, id LIMIT 1` + t.forUpdate
	return t.queryOne(ctx, query, *email, *phoneNumber)
}

// FindByID queries a live contact by id
func (t *contactTx) FindByID(ctx context.Context, id int64) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE id = $1 AND deleted_at IS NULL` + t.forUpdate
	return t.queryOne(ctx, query, id)
}

// FindByPrimaryID gets the primary contact and all its secondary contacts
func (t *contactTx) FindByPrimaryID(ctx context.Context, primaryID models.PrimaryID) ([]models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (id = $1 OR linked_id = $1) AND deleted_at IS NULL
			  ORDER BY CASE WHEN id = $1 THEN 0 ELSE 1 END, created_at, id` + t.forUpdate
	return t.queryContacts(ctx, query, int64(primaryID))
}

// Create inserts a primary contact, or a secondary one when linkedTo is set.
// A secondary is only inserted while its primary is live and still primary.
func (t *contactTx) Create(ctx context.Context, email, phoneNumber *string, linkedTo *models.PrimaryID) (models.Contact, error) {
	now := t.timestamp()

	if linkedTo == nil {
		query := `INSERT INTO contacts (phone_number, email, link_precedence, created_at, updated_at)
				  VALUES ($1, $2, 'primary', $3, $4) RETURNING id`
		var id int64
		if err := t.q.QueryRowContext(ctx, query, phoneNumber, email, now, now).Scan(&id); err != nil {
			return models.Contact{}, classifyDriverError(err)
		}
		return models.NewPrimaryContact(id, email, phoneNumber, now, now), nil
	}

	if err := t.requireLivePrimary(ctx, *linkedTo); err != nil {
		return models.Contact{}, err
	}
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, 'secondary', $4, $5) RETURNING id`
	var id int64
	if err := t.q.QueryRowContext(ctx, query, phoneNumber, email, int64(*linkedTo), now, now).Scan(&id); err != nil {
		return models.Contact{}, classifyDriverError(err)
	}
	return models.NewSecondaryContact(id, email, phoneNumber, *linkedTo, now, now), nil
}

// UpdateToSecondary demotes a live primary under another live primary
func (t *contactTx) UpdateToSecondary(ctx context.Context, contactID int64, newLinkedID models.PrimaryID) (models.Contact, error) {
	return t.relink(ctx, contactID, newLinkedID, models.Primary)
}

// UpdatePrimaryIDOfSecondary moves a live secondary to another live primary
func (t *contactTx) UpdatePrimaryIDOfSecondary(ctx context.Context, contactID int64, newLinkedID models.PrimaryID) (models.Contact, error) {
	return t.relink(ctx, contactID, newLinkedID, models.Secondary)
}

func (t *contactTx) relink(ctx context.Context, contactID int64, newLinkedID models.PrimaryID, from models.LinkPrecedence) (models.Contact, error) {
	if contactID == int64(newLinkedID) {
		return models.Contact{}, fmt.Errorf("contact %d cannot link to itself", contactID)
	}
	if err := t.requireLivePrimary(ctx, newLinkedID); err != nil {
		return models.Contact{}, err
	}
	query := `UPDATE contacts SET link_precedence = 'secondary', linked_id = $1, updated_at = $2
			  WHERE id = $3 AND link_precedence = $4 AND deleted_at IS NULL
			  RETURNING ` + contactColumns
	c, err := t.queryOne(ctx, query, int64(newLinkedID), t.timestamp(), contactID, string(from))
	if err != nil {
		return models.Contact{}, err
	}
	if c == nil {
		return models.Contact{}, fmt.Errorf("%w: contact %d is no longer a live %s", service.ErrConflict, contactID, from)
	}
	return *c, nil
}

// requireLivePrimary locks the target of a new link and checks it can
// accept secondaries.
func (t *contactTx) requireLivePrimary(ctx context.Context, id models.PrimaryID) error {
	target, err := t.FindByID(ctx, int64(id))
	if err != nil {
		return err
	}
	if target == nil || !target.IsPrimary() {
		return fmt.Errorf("%w: contact %d is no longer a live primary", service.ErrConflict, id)
	}
	return nil
}

func (t *contactTx) queryOne(ctx context.Context, query string, args ...any) (*models.Contact, error) {
	contacts, err := t.queryContacts(ctx, query, args...)
	if err != nil || len(contacts) == 0 {
		return nil, err
	}
	return &contacts[0], nil
}

// queryContacts executes a query and returns contacts
func (t *contactTx) queryContacts(ctx context.Context, query string, args ...any) ([]models.Contact, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyDriverError(err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var r contactRow
		if err := r.scan(rows); err != nil {
			return nil, classifyDriverError(err)
		}
		c, err := r.toContact()
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, classifyDriverError(rows.Err())
}
