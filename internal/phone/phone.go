// Package phone normalizes phone numbers and decides whether two free-form numbers
// refer to the same subscriber.
package phone

import (
	"sort"
	"strings"
)

// DefaultCountryPrefix is the dialing prefix assumed for local numbers.
const DefaultCountryPrefix = "972"

// MinSuffixLength is the shortest trailing-digit variant that takes part in matching.
const MinSuffixLength = 4

var suffixLengths = []int{4, 8, 9, 10}

// Set is an unordered set of phone variants.
type Set map[string]struct{}

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Intersects reports whether the two sets share any variant.
func (s Set) Intersects(other Set) bool {
	if len(s) == 0 || len(other) == 0 {
		return false
	}
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for v := range small {
		if large.Has(v) {
			return true
		}
	}
	return false
}

// Union returns a new set containing the variants of both sets.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for v := range s {
		out[v] = struct{}{}
	}
	for v := range other {
		out[v] = struct{}{}
	}
	return out
}

// Sorted returns the variants in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s Set) add(v string) {
	if v == "" || v == "+" {
		return
	}
	s[v] = struct{}{}
}

// Normalizer builds variant sets for a fixed country prefix.
type Normalizer struct {
	countryPrefix string
}

// NewNormalizer returns a normalizer for the given dialing prefix. Non-digits in the prefix
// are ignored; an empty prefix falls back to DefaultCountryPrefix.
func NewNormalizer(countryPrefix string) *Normalizer {
	prefix := Normalize(countryPrefix)
	if prefix == "" {
		prefix = DefaultCountryPrefix
	}
	return &Normalizer{countryPrefix: prefix}
}

var defaultNormalizer = NewNormalizer(DefaultCountryPrefix)

// Default returns the normalizer for DefaultCountryPrefix.
func Default() *Normalizer {
	return defaultNormalizer
}

// CountryPrefix returns the configured dialing prefix.
func (n *Normalizer) CountryPrefix() string {
	return n.countryPrefix
}

// Normalize strips every non-digit character.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Variants returns every spelling of raw that should be considered the same number:
// the original string, its digits, the number with and without the country prefix,
// with and without a trunk 0, with and without "+", and its trailing 4/8/9/10 digits.
// Input without digits yields an empty set.
func (n *Normalizer) Variants(raw string) Set {
	set := Set{}
	digits := Normalize(raw)
	if digits == "" {
		return set
	}

	set.add(strings.TrimSpace(raw))
	set.add(digits)
	set.add("+" + digits)

	local := n.local(digits)
	if local != "" {
		set.add(local)
		set.add("0" + local)
		set.add(n.countryPrefix + local)
		set.add("+" + n.countryPrefix + local)
	}

	for _, l := range suffixLengths {
		if l >= MinSuffixLength && len(digits) >= l {
			set.add(digits[len(digits)-l:])
		}
	}
	return set
}

// local returns the subscriber part of digits without the country prefix or trunk zero.
func (n *Normalizer) local(digits string) string {
	switch {
	case strings.HasPrefix(digits, "00"+n.countryPrefix):
		return strings.TrimPrefix(digits[2+len(n.countryPrefix):], "0")
	case strings.HasPrefix(digits, n.countryPrefix) && len(digits) > len(n.countryPrefix)+6:
		return strings.TrimPrefix(digits[len(n.countryPrefix):], "0")
	case strings.HasPrefix(digits, "0"):
		return strings.TrimLeft(digits, "0")
	default:
		return digits
	}
}

// International returns the number as digits with the country prefix, the form the send
// API expects. Empty input gives "".
func (n *Normalizer) International(raw string) string {
	digits := Normalize(raw)
	if digits == "" {
		return ""
	}
	local := n.local(digits)
	if local == "" {
		return digits
	}
	return n.countryPrefix + local
}

// Match reports whether a and b share any variant. Two inputs without digits never match.
func (n *Normalizer) Match(a, b string) bool {
	return n.Variants(a).Intersects(n.Variants(b))
}

// VariantsOf returns the union of the variants of every phone.
func (n *Normalizer) VariantsOf(phones ...string) Set {
	out := Set{}
	for _, p := range phones {
		for v := range n.Variants(p) {
			out[v] = struct{}{}
		}
	}
	return out
}

// Variants uses the default normalizer.
func Variants(raw string) Set {
	return defaultNormalizer.Variants(raw)
}

// Match uses the default normalizer.
func Match(a, b string) bool {
	return defaultNormalizer.Match(a, b)
}
