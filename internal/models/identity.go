package models

// Outcome describes what a resolution did to the store.
type Outcome string

const (
	OutcomeMatched           Outcome = "matched"
	OutcomeCreatedPrimary    Outcome = "created_primary"
	OutcomeAttachedSecondary Outcome = "attached_secondary"
	OutcomeMerged            Outcome = "merged"
)

// Identity is a consolidated cluster: one primary and its secondaries,
// ordered by creation.
type Identity struct {
	Primary     Contact
	Secondaries []Contact
	Outcome     Outcome
}

func (i *Identity) members() []Contact {
	all := make([]Contact, 0, len(i.Secondaries)+1)
	all = append(all, i.Primary)
	return append(all, i.Secondaries...)
}

// Emails lists distinct emails in order of first appearance, starting with
// the primary's own.
func (i *Identity) Emails() []string {
	return distinct(i.members(), func(c Contact) *string { return c.Email })
}

// PhoneNumbers lists distinct phone numbers in order of first appearance,
// starting with the primary's own.
func (i *Identity) PhoneNumbers() []string {
	return distinct(i.members(), func(c Contact) *string { return c.PhoneNumber })
}

// SecondaryContactIDs lists secondary ids in creation order.
func (i *Identity) SecondaryContactIDs() []int64 {
	ids := make([]int64, 0, len(i.Secondaries))
	for _, c := range i.Secondaries {
		ids = append(ids, c.ID)
	}
	return ids
}

// Response builds the /identify response body.
func (i *Identity) Response() *IdentifyResponse {
	return &IdentifyResponse{
		Contact: ContactResponse{
			PrimaryContactID:    i.Primary.ID,
			Emails:              i.Emails(),
			PhoneNumbers:        i.PhoneNumbers(),
			SecondaryContactIDs: i.SecondaryContactIDs(),
		},
	}
}

func distinct(contacts []Contact, field func(Contact) *string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, c := range contacts {
		v := field(c)
		if v == nil || *v == "" || seen[*v] {
			continue
		}
		seen[*v] = true
		out = append(out, *v)
	}
	return out
}
