// Package identity reconciles WhatsApp messages to the lead, legacy lead or contact they
// belong to.
package identity

import (
	"strings"

	"github.com/rs/zerolog/log"

	"crm-inbox/internal/models"
	"crm-inbox/internal/phone"
)

// Rule names the step that produced a resolution.
type Rule string

const (
	RuleContactID       Rule = "contact_id"
	RuleLeadID          Rule = "lead_id"
	RuleLegacyID        Rule = "legacy_id"
	RuleContactRepair   Rule = "contact_phone_repair"
	RulePhone           Rule = "phone"
	RuleNoPhoneFallback Rule = "no_phone_fallback"
	RuleUnresolved      Rule = "unresolved"
)

// Resolution is the outcome of resolving one message. Client is nil when unresolved.
type Resolution struct {
	MessageID string             `json:"message_id"`
	Client    *models.ClientRef  `json:"client,omitempty"`
	Rule      Rule               `json:"rule"`
	Ambiguous []models.ClientRef `json:"ambiguous,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// Resolved reports whether a client was found.
func (r Resolution) Resolved() bool {
	return r.Client != nil
}

// IsAmbiguous reports whether several candidates of the same precedence matched.
func (r Resolution) IsAmbiguous() bool {
	return len(r.Ambiguous) > 1
}

// Resolver applies the resolution rules in priority order.
type Resolver struct {
	normalizer *phone.Normalizer
}

// NewResolver creates a resolver using normalizer for phone matching.
func NewResolver(normalizer *phone.Normalizer) *Resolver {
	if normalizer == nil {
		normalizer = phone.Default()
	}
	return &Resolver{normalizer: normalizer}
}

// Normalizer returns the phone normalizer in use.
func (r *Resolver) Normalizer() *phone.Normalizer {
	return r.normalizer
}

// Resolve decides which client msg belongs to. Rules, first match wins:
// contact id, lead or legacy id (with contact repair by phone), phone intersection with
// contacts before leads, and finally the scoped no-phone fallback.
func (r *Resolver) Resolve(msg models.Message, cands *Candidates) Resolution {
	res := Resolution{MessageID: msg.ID}

	if msg.HasContact() {
		contactID := strings.TrimSpace(*msg.ContactID)
		if i, ok := cands.byContact[contactID]; ok {
			return resolved(res, cands.ordered[i].client.Ref, RuleContactID)
		}
		res.Rule = RuleUnresolved
		res.Reason = "contact_id " + contactID + " not among candidates"
		return res
	}

	variants := r.normalizer.Variants(msg.Phone())

	if ref, rule, ok := leadRef(msg); ok {
		if i, found := cands.byKey[ref.Key()]; found {
			lead := cands.ordered[i].client
			if matches := cands.matching(cands.contactsOf[ref.Key()], variants); len(matches) > 0 {
				out := resolved(res, cands.ordered[matches[0]].client.Ref, RuleContactRepair)
				out.Ambiguous = cands.refs(matches)
				return out
			}
			return resolved(res, lead.Ref, rule)
		}
	}

	if len(variants) > 0 {
		var contacts, leads []int
		for i, cand := range cands.ordered {
			if !cand.variants.Intersects(variants) {
				continue
			}
			if cand.client.IsContact() {
				contacts = append(contacts, i)
			} else {
				leads = append(leads, i)
			}
		}
		if len(contacts) > 0 {
			out := resolved(res, cands.ordered[contacts[0]].client.Ref, RulePhone)
			out.Ambiguous = cands.refs(contacts)
			return out
		}
		if len(leads) > 0 {
			out := resolved(res, cands.ordered[leads[0]].client.Ref, RulePhone)
			out.Ambiguous = cands.refs(leads)
			return out
		}
	}

	if len(variants) == 0 && cands.scope != nil && cands.scope.IsLead() {
		if lead, ok := cands.Lookup(*cands.scope); ok && !lead.HasPhone() {
			return resolved(res, lead.Ref, RuleNoPhoneFallback)
		}
	}

	res.Rule = RuleUnresolved
	switch {
	case len(variants) == 0:
		res.Reason = "no ids and no phone number"
	default:
		res.Reason = "phone " + msg.Phone() + " matches no candidate"
	}
	return res
}

// ResolveAll resolves every message and reports aggregate counts. Unresolved and ambiguous
// results are logged at warn level.
func (r *Resolver) ResolveAll(msgs []models.Message, cands *Candidates) ([]Resolution, Stats) {
	results := make([]Resolution, 0, len(msgs))
	stats := Stats{ByRule: make(map[Rule]int)}
	for _, msg := range msgs {
		res := r.Resolve(msg, cands)
		results = append(results, res)
		stats.add(res)

		switch {
		case !res.Resolved():
			log.Warn().Str("message_id", msg.ID).Str("reason", res.Reason).Msg("Message could not be resolved to a client")
		case res.IsAmbiguous():
			log.Warn().Str("message_id", msg.ID).Str("client", res.Client.String()).
				Strs("candidates", refStrings(res.Ambiguous)).Msg("Ambiguous phone match")
		}
	}
	return results, stats
}

func leadRef(msg models.Message) (models.ClientRef, Rule, bool) {
	if id := strings.TrimSpace(models.Deref(msg.LeadID)); id != "" {
		return models.LeadRef(id), RuleLeadID, true
	}
	if id := strings.TrimSpace(models.Deref(msg.LegacyID)); id != "" {
		return models.LegacyLeadRef(id), RuleLegacyID, true
	}
	return models.ClientRef{}, "", false
}

func (c *Candidates) matching(indices []int, variants phone.Set) []int {
	if len(variants) == 0 {
		return nil
	}
	var out []int
	for _, i := range indices {
		if c.ordered[i].variants.Intersects(variants) {
			out = append(out, i)
		}
	}
	return out
}

func (c *Candidates) refs(indices []int) []models.ClientRef {
	if len(indices) < 2 {
		return nil
	}
	out := make([]models.ClientRef, len(indices))
	for k, i := range indices {
		out[k] = c.ordered[i].client.Ref
	}
	return out
}

func resolved(res Resolution, ref models.ClientRef, rule Rule) Resolution {
	res.Client = &ref
	res.Rule = rule
	return res
}

func refStrings(refs []models.ClientRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
