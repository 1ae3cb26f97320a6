package identity

// Stats summarizes a ResolveAll run.
type Stats struct {
	Total      int          `json:"total"`
	Resolved   int          `json:"resolved"`
	Unresolved int          `json:"unresolved"`
	Ambiguous  int          `json:"ambiguous"`
	ByRule     map[Rule]int `json:"by_rule"`
}

func (s *Stats) add(res Resolution) {
	s.Total++
	s.ByRule[res.Rule]++
	if !res.Resolved() {
		s.Unresolved++
		return
	}
	s.Resolved++
	if res.IsAmbiguous() {
		s.Ambiguous++
	}
}
