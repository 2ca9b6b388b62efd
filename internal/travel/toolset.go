package travel

import "github.com/dshills/langgraph-travel/graph/tool"

// Toolset is the assistant's tool belt. Safe tools only read; sensitive
// tools change bookings and need the user's approval before they run.
type Toolset struct {
	Safe      []tool.Tool
	Sensitive []tool.Tool
}

// NewToolset builds every travel tool over db. policy and search may be nil,
// in which case lookup_policy or tavily_search is left out.
func NewToolset(db *DB, policy *PolicyRetriever, search *WebSearch) *Toolset {
	ts := &Toolset{}
	if search != nil {
		ts.Safe = append(ts.Safe, search.Tool())
	}
	ts.Safe = append(ts.Safe, fetchUserFlightInformation(db), searchFlights(db))
	if policy != nil {
		ts.Safe = append(ts.Safe, policy.Tool())
	}
	ts.Sensitive = append(ts.Sensitive, updateTicketToNewFlight(db), cancelTicket(db))

	for _, group := range []func(*DB) (tool.Tool, []tool.Tool){carTools, hotelTools, excursionTools} {
		s, sensitive := group(db)
		ts.Safe = append(ts.Safe, s)
		ts.Sensitive = append(ts.Sensitive, sensitive...)
	}
	return ts
}

// All returns the safe tools followed by the sensitive ones.
func (t *Toolset) All() []tool.Tool {
	all := make([]tool.Tool, 0, len(t.Safe)+len(t.Sensitive))
	all = append(all, t.Safe...)
	return append(all, t.Sensitive...)
}

// SensitiveNames returns the names routed through the approval gate.
func (t *Toolset) SensitiveNames() []string {
	return tool.Names(t.Sensitive...)
}

// Get returns the tool called name.
func (t *Toolset) Get(name string) (tool.Tool, bool) {
	for _, tl := range t.All() {
		if tl.Name() == name {
			return tl, true
		}
	}
	return nil, false
}
