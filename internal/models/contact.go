package models

import (
	"encoding/json"
	"time"
)

// LinkPrecedence marks a contact as the head of its cluster or as an alias.
type LinkPrecedence string

const (
	Primary   LinkPrecedence = "primary"
	Secondary LinkPrecedence = "secondary"
)

// PrimaryID is the id of a contact known to be a primary. Values come either
// from Contact.AsPrimary or from the store when it decodes a secondary row.
type PrimaryID int64

// Contact is a customer contact. A primary has no link; a secondary is linked
// to exactly one primary, never to another secondary.
type Contact struct {
	ID          int64
	Email       *string
	PhoneNumber *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time

	link *PrimaryID
}

// NewPrimaryContact builds a primary contact.
func NewPrimaryContact(id int64, email, phoneNumber *string, createdAt, updatedAt time.Time) Contact {
	return Contact{
		ID:          id,
		Email:       email,
		PhoneNumber: phoneNumber,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// NewSecondaryContact builds a secondary contact linked to a primary.
func NewSecondaryContact(id int64, email, phoneNumber *string, linkedTo PrimaryID, createdAt, updatedAt time.Time) Contact {
	c := NewPrimaryContact(id, email, phoneNumber, createdAt, updatedAt)
	c.link = &linkedTo
	return c
}

// LinkPrecedence reports whether the contact is primary or secondary.
func (c Contact) LinkPrecedence() LinkPrecedence {
	if c.link == nil {
		return Primary
	}
	return Secondary
}

// IsPrimary reports whether the contact heads its own cluster.
func (c Contact) IsPrimary() bool {
	return c.link == nil
}

// LinkedID returns the primary a secondary is attached to.
func (c Contact) LinkedID() (PrimaryID, bool) {
	if c.link == nil {
		return 0, false
	}
	return *c.link, true
}

// AsPrimary returns the contact's own id as a PrimaryID when it is a primary.
func (c Contact) AsPrimary() (PrimaryID, bool) {
	if c.link != nil {
		return 0, false
	}
	return PrimaryID(c.ID), true
}

// SamePair compares the contact's email and phone with the given values
// field by field. Two absent values are equal.
func (c Contact) SamePair(email, phoneNumber *string) bool {
	return equalOptional(c.Email, email) && equalOptional(c.PhoneNumber, phoneNumber)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type contactJSON struct {
	ID             int64          `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber"`
	Email          *string        `json:"email"`
	LinkedID       *PrimaryID     `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt"`
}

// MarshalJSON renders the flat row shape.
func (c Contact) MarshalJSON() ([]byte, error) {
	return json.Marshal(contactJSON{
		ID:             c.ID,
		PhoneNumber:    c.PhoneNumber,
		Email:          c.Email,
		LinkedID:       c.link,
		LinkPrecedence: c.LinkPrecedence(),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		DeletedAt:      c.DeletedAt,
	})
}
