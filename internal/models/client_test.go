package models

import "testing"

func TestParseClientRef(t *testing.T) {
	testCases := []struct {
		input   string
		want    ClientRef
		wantErr bool
	}{
		{input: "lead:3f2a", want: LeadRef("3f2a")},
		{input: "legacy:1042", want: LegacyLeadRef("1042")},
		{input: " contact:7 ", want: ClientRef{Kind: KindContact, ID: "7"}},
		{input: "lead:", wantErr: true},
		{input: "1042", wantErr: true},
		{input: "user:1", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := ParseClientRef(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClientRef(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClientRef(%q) unexpected error: %v", tc.input, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseClientRef(%q) = %v, expected %v", tc.input, got, tc.want)
		}
	}
}

func TestContactRefRoundTrip(t *testing.T) {
	parent := LegacyLeadRef("55")
	ref := ContactRef("9", &parent)

	if ref.String() != "contact:9" {
		t.Errorf("Expected contact:9, got %s", ref.String())
	}
	if ref.Parent == nil || !ref.Parent.Equal(parent) {
		t.Errorf("Expected parent %v, got %v", parent, ref.Parent)
	}
	if ref.IsLead() {
		t.Errorf("Contact ref must not be a lead")
	}
}

func TestRoleAssignmentsIncludes(t *testing.T) {
	roles := RoleAssignments{Closer: "Dana Levi", Handler: "  avi "}

	if !roles.Includes("dana levi") {
		t.Errorf("Expected closer match")
	}
	if !roles.Includes("Avi") {
		t.Errorf("Expected trimmed handler match")
	}
	if roles.Includes("") {
		t.Errorf("Empty employee must never match")
	}
	if roles.Includes("Noa") {
		t.Errorf("Unexpected match")
	}
}

func TestClientPhones(t *testing.T) {
	c := Client{Phone: " ", Mobile: "050-1234567"}
	if got := c.SendPhone(); got != "050-1234567" {
		t.Errorf("Expected mobile as send phone, got %q", got)
	}
	if !c.HasPhone() {
		t.Errorf("Expected HasPhone")
	}
	if (Client{}).HasPhone() {
		t.Errorf("Empty client must not have a phone")
	}
}
