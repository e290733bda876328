package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PhoneInput accepts a phone number sent either as a JSON string or a JSON
// number.
type PhoneInput string

// UnmarshalJSON implements json.Unmarshaler.
func (p *PhoneInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number: %w", err)
	}
	*p = PhoneInput(n.String())
	return nil
}

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string     `json:"email" validate:"omitempty,max=320,email"`
	PhoneNumber *PhoneInput `json:"phoneNumber" validate:"omitempty,phone"`
}

// ContactResponse represents the contact data in the response
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
