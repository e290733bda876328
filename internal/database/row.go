package database

import (
	"database/sql"
	"fmt"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"
)

// contactRow is the flat storage shape of a contact.
type contactRow struct {
	id             int64
	phone          sql.NullString
	email          sql.NullString
	linkedID       sql.NullInt64
	linkPrecedence string
	createdAt      time.Time
	updatedAt      time.Time
	deletedAt      sql.NullTime
}

func (r *contactRow) scan(rows *sql.Rows) error {
	return rows.Scan(&r.id, &r.phone, &r.email, &r.linkedID, &r.linkPrecedence, &r.createdAt, &r.updatedAt, &r.deletedAt)
}

// toContact translates the row into the two-tier model. Rows whose
// precedence and link disagree are rejected.
func (r *contactRow) toContact() (models.Contact, error) {
	var email, phone *string
	if r.email.Valid {
		email = &r.email.String
	}
	if r.phone.Valid {
		phone = &r.phone.String
	}

	var c models.Contact
	switch models.LinkPrecedence(r.linkPrecedence) {
	case models.Primary:
		if r.linkedID.Valid {
			return models.Contact{}, &service.DataIntegrityError{ContactID: r.id, Reason: "primary row carries a linked_id"}
		}
		c = models.NewPrimaryContact(r.id, email, phone, r.createdAt, r.updatedAt)
	case models.Secondary:
		if !r.linkedID.Valid {
			return models.Contact{}, &service.DataIntegrityError{ContactID: r.id, Reason: "secondary row has no linked_id"}
		}
		if r.linkedID.Int64 == r.id {
			return models.Contact{}, &service.DataIntegrityError{ContactID: r.id, Reason: "secondary row links to itself"}
		}
		c = models.NewSecondaryContact(r.id, email, phone, models.PrimaryID(r.linkedID.Int64), r.createdAt, r.updatedAt)
	default:
		return models.Contact{}, &service.DataIntegrityError{
			ContactID: r.id,
			Reason:    fmt.Sprintf("unknown link precedence %q", r.linkPrecedence),
		}
	}

	if r.deletedAt.Valid {
		deleted := r.deletedAt.Time
		c.DeletedAt = &deleted
	}
	return c, nil
}
