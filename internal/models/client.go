package models

import (
	"fmt"
	"strings"
)

// ClientKind tags the identity namespace a client lives in.
type ClientKind string

const (
	KindLead       ClientKind = "lead"
	KindLegacyLead ClientKind = "legacy"
	KindContact    ClientKind = "contact"
)

// ClientRef identifies one logical client: Lead(id), LegacyLead(id) or Contact(id, parent).
// Parent is set only for contacts and is not part of the string form.
type ClientRef struct {
	Kind   ClientKind `json:"kind"`
	ID     string     `json:"id"`
	Parent *ClientRef `json:"parent,omitempty"`
}

// LeadRef references a new-schema lead.
func LeadRef(id string) ClientRef {
	return ClientRef{Kind: KindLead, ID: id}
}

// LegacyLeadRef references a legacy-schema lead.
func LegacyLeadRef(id string) ClientRef {
	return ClientRef{Kind: KindLegacyLead, ID: id}
}

// ContactRef references a contact under the given parent lead.
func ContactRef(id string, parent *ClientRef) ClientRef {
	ref := ClientRef{Kind: KindContact, ID: id}
	if parent != nil {
		p := ClientRef{Kind: parent.Kind, ID: parent.ID}
		ref.Parent = &p
	}
	return ref
}

// String returns "<kind>:<id>", the form used in URLs and map keys.
func (r ClientRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Key is an alias of String for map indexing.
func (r ClientRef) Key() string {
	return r.String()
}

// IsZero reports whether the ref is unset.
func (r ClientRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Equal compares kind and id; the parent link does not take part in identity.
func (r ClientRef) Equal(other ClientRef) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// IsLead reports whether the ref points at a lead of either schema.
func (r ClientRef) IsLead() bool {
	return r.Kind == KindLead || r.Kind == KindLegacyLead
}

// ParseClientRef parses the String form back into a ref.
func ParseClientRef(s string) (ClientRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return ClientRef{}, fmt.Errorf("invalid client ref %q, expected <kind>:<id>", s)
	}
	switch ClientKind(kind) {
	case KindLead, KindLegacyLead, KindContact:
		return ClientRef{Kind: ClientKind(kind), ID: id}, nil
	default:
		return ClientRef{}, fmt.Errorf("invalid client kind %q in ref %q", kind, s)
	}
}

// RoleAssignments are the staff members attached to a lead.
type RoleAssignments struct {
	Closer    string `json:"closer,omitempty"`
	Scheduler string `json:"scheduler,omitempty"`
	Handler   string `json:"handler,omitempty"`
	Manager   string `json:"manager,omitempty"`
}

// Includes reports whether the employee holds any role, case-insensitively.
func (r RoleAssignments) Includes(employee string) bool {
	employee = strings.TrimSpace(employee)
	if employee == "" {
		return false
	}
	for _, name := range []string{r.Closer, r.Scheduler, r.Handler, r.Manager} {
		if strings.EqualFold(strings.TrimSpace(name), employee) {
			return true
		}
	}
	return false
}

// Client is a lead, legacy lead or contact as seen by the inbox.
type Client struct {
	Ref        ClientRef       `json:"ref"`
	LeadNumber string          `json:"lead_number"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone,omitempty"`
	Mobile     string          `json:"mobile,omitempty"`
	Roles      RoleAssignments `json:"roles"`
}

// IsContact reports whether the client is a contact subordinate to a lead.
func (c Client) IsContact() bool {
	return c.Ref.Kind == KindContact
}

// ContactID returns the contact id, or "" for leads.
func (c Client) ContactID() string {
	if !c.IsContact() {
		return ""
	}
	return c.Ref.ID
}

// ParentLead returns the owning lead of a contact, or the lead itself.
func (c Client) ParentLead() *ClientRef {
	if c.IsContact() {
		return c.Ref.Parent
	}
	ref := c.Ref
	return &ref
}

// Phones returns the non-empty phone and mobile values.
func (c Client) Phones() []string {
	var phones []string
	for _, p := range []string{c.Phone, c.Mobile} {
		if strings.TrimSpace(p) != "" {
			phones = append(phones, p)
		}
	}
	return phones
}

// HasPhone reports whether any phone is set.
func (c Client) HasPhone() bool {
	return len(c.Phones()) > 0
}

// SendPhone is the number outbound messages go to: phone first, then mobile.
func (c Client) SendPhone() string {
	phones := c.Phones()
	if len(phones) == 0 {
		return ""
	}
	return phones[0]
}
