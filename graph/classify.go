package graph

// Labels returned by the built-in classifiers.
const (
	LabelUseTools  = "use-tools"
	LabelSensitive = "sensitive-path"
	LabelSafe      = "safe-path"
)

// ToolDispatch returns a classifier that yields LabelUseTools when the latest
// message requests at least one tool call, and End otherwise.
func ToolDispatch() Classifier {
	return func(state State) string {
		last, ok := LastMessage(state.Messages)
		if ok && last.HasToolCalls() {
			return LabelUseTools
		}
		return End
	}
}

// Sensitivity returns a classifier that yields LabelSensitive when the first
// tool call of the latest message names one of the sensitive tools, and
// LabelSafe otherwise.
//
// Only the first call is inspected. A model that emits several calls in one
// turn is routed by its first call.
func Sensitivity(sensitive ...string) Classifier {
	set := make(map[string]bool, len(sensitive))
	for _, name := range sensitive {
		set[name] = true
	}
	return func(state State) string {
		last, ok := LastMessage(state.Messages)
		if !ok || !last.HasToolCalls() {
			return LabelSafe
		}
		if set[last.ToolCalls[0].Name] {
			return LabelSensitive
		}
		return LabelSafe
	}
}

// Dispatch composes two classifiers: when first returns label, the decision
// is delegated to then; any other label from first is returned unchanged.
//
//	graph.Dispatch(graph.ToolDispatch(), graph.LabelUseTools, graph.Sensitivity("book_hotel"))
func Dispatch(first Classifier, label string, then Classifier) Classifier {
	return func(state State) string {
		got := first(state)
		if got == label {
			return then(state)
		}
		return got
	}
}

// ContextLabel returns a classifier that reads a string context field and
// uses it as the label, falling back to fallback when the field is missing.
func ContextLabel(field, fallback string) Classifier {
	return func(state State) string {
		if v := state.GetString(field); v != "" {
			return v
		}
		return fallback
	}
}
