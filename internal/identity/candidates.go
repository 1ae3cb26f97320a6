package identity

import (
	"sort"
	"strconv"

	"crm-inbox/internal/models"
	"crm-inbox/internal/phone"
)

type candidate struct {
	client   models.Client
	variants phone.Set
	input    int
}

// Candidates is the indexed set of clients a message may resolve to, held in canonical
// order: contacts by parent lead then id, then leads by kind then id.
type Candidates struct {
	ordered    []candidate
	byKey      map[string]int
	byContact  map[string]int
	contactsOf map[string][]int
	scope      *models.ClientRef
}

// NewCandidates indexes clients. Duplicate refs keep the first occurrence.
func NewCandidates(clients []models.Client, normalizer *phone.Normalizer) *Candidates {
	if normalizer == nil {
		normalizer = phone.Default()
	}

	ordered := make([]candidate, 0, len(clients))
	seen := make(map[string]struct{}, len(clients))
	for _, c := range clients {
		if c.Ref.IsZero() {
			continue
		}
		if _, dup := seen[c.Ref.Key()]; dup {
			continue
		}
		seen[c.Ref.Key()] = struct{}{}
		ordered = append(ordered, candidate{
			client:   c,
			variants: normalizer.VariantsOf(c.Phones()...),
			input:    len(ordered),
		})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return canonicalLess(ordered[i].client, ordered[j].client)
	})

	cs := &Candidates{
		ordered:    ordered,
		byKey:      make(map[string]int, len(ordered)),
		byContact:  make(map[string]int),
		contactsOf: make(map[string][]int),
	}
	for i, cand := range ordered {
		ref := cand.client.Ref
		cs.byKey[ref.Key()] = i
		if ref.Kind == models.KindContact {
			cs.byContact[ref.ID] = i
			if ref.Parent != nil {
				cs.contactsOf[ref.Parent.Key()] = append(cs.contactsOf[ref.Parent.Key()], i)
			}
		}
	}
	return cs
}

// WithScope returns a copy scoped to one lead, enabling the no-phone fallback for it.
func (c *Candidates) WithScope(ref models.ClientRef) *Candidates {
	scoped := *c
	scoped.scope = &ref
	return &scoped
}

// Clients returns the candidates in canonical order.
func (c *Candidates) Clients() []models.Client {
	out := make([]models.Client, len(c.ordered))
	for i, cand := range c.ordered {
		out[i] = cand.client
	}
	return out
}

// InputOrder returns the candidates in the order they were given.
func (c *Candidates) InputOrder() []models.Client {
	out := make([]models.Client, len(c.ordered))
	for _, cand := range c.ordered {
		out[cand.input] = cand.client
	}
	return out
}

// Lookup returns the client with ref.
func (c *Candidates) Lookup(ref models.ClientRef) (models.Client, bool) {
	i, ok := c.byKey[ref.Key()]
	if !ok {
		return models.Client{}, false
	}
	return c.ordered[i].client, true
}

// Len returns the number of candidates.
func (c *Candidates) Len() int {
	return len(c.ordered)
}

func canonicalLess(a, b models.Client) bool {
	ac, bc := a.IsContact(), b.IsContact()
	if ac != bc {
		return ac
	}
	if ac {
		pa, pb := parentKey(a), parentKey(b)
		if pa != pb {
			return compareRefs(pa, pb) < 0
		}
		return compareIDs(a.Ref.ID, b.Ref.ID) < 0
	}
	if a.Ref.Kind != b.Ref.Kind {
		return a.Ref.Kind == models.KindLead
	}
	return compareIDs(a.Ref.ID, b.Ref.ID) < 0
}

type refKey struct {
	kind models.ClientKind
	id   string
}

func parentKey(c models.Client) refKey {
	if c.Ref.Parent == nil {
		return refKey{}
	}
	return refKey{kind: c.Ref.Parent.Kind, id: c.Ref.Parent.ID}
}

func compareRefs(a, b refKey) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	return compareIDs(a.id, b.id)
}

// compareIDs orders numeric ids numerically and everything else lexically.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
