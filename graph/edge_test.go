package graph

import (
	"reflect"
	"testing"
)

func TestRouter_Resolve(t *testing.T) {
	r := NewRouter()
	must(t, r.Connect("fetch_user_info", "assistant"))
	must(t, r.ConnectConditional("grade", ContextLabel("relevance", "rewrite"), map[string]string{
		"generate": "generate",
		"rewrite":  "rewrite",
	}))

	tests := []struct {
		name  string
		from  string
		state State
		want  string
		code  string
	}{
		{"unconditional", "fetch_user_info", State{}, "assistant", ""},
		{"declared label", "grade", With("relevance", "generate"), "generate", ""},
		{"fallback label", "grade", State{}, "rewrite", ""},
		{"end is always legal", "grade", With("relevance", End), End, ""},
		{"undeclared label", "grade", With("relevance", "maybe"), "", "UNDECLARED_LABEL"},
		{"no edge", "generate", State{}, "", "NO_ROUTE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.from, tt.state)
			if ErrorCode(err) != tt.code {
				t.Fatalf("expected code %q, got %v", tt.code, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRouter_Connect(t *testing.T) {
	r := NewRouter()
	classify := func(State) string { return "" }

	if err := r.Connect("", "b"); err == nil {
		t.Error("expected error for empty from")
	}
	if err := r.Connect("a", ""); err == nil {
		t.Error("expected error for empty to")
	}
	if err := r.ConnectConditional("a", nil, map[string]string{"x": "b"}); err == nil {
		t.Error("expected error for nil classifier")
	}
	if err := r.ConnectConditional("a", classify, map[string]string{"x": ""}); ErrorCode(err) != "INVALID_ROUTE" {
		t.Errorf("expected INVALID_ROUTE, got %v", err)
	}

	must(t, r.Connect("a", "b"))
	if err := r.Connect("a", "c"); ErrorCode(err) != "DUPLICATE_ROUTE" {
		t.Errorf("expected DUPLICATE_ROUTE, got %v", err)
	}

	routes := map[string]string{"x": "b"}
	must(t, r.ConnectConditional("b", classify, routes))
	routes["y"] = "c"
	e, _ := r.Edge("b")
	if len(e.Routes) != 1 {
		t.Error("router kept a reference to the caller's routes map")
	}

	edges := r.Edges()
	if len(edges) != 2 || edges[0].From != "a" || edges[1].From != "b" {
		t.Errorf("expected edges ordered by source, got %+v", edges)
	}
}

func TestEdge_Targets(t *testing.T) {
	plain := Edge{From: "a", To: "b"}
	if !reflect.DeepEqual(plain.Targets(), []string{"b"}) {
		t.Errorf("unexpected targets %v", plain.Targets())
	}

	cond := Edge{
		From:     "assistant",
		Classify: ToolDispatch(),
		Routes:   map[string]string{LabelSafe: "safe_tools", LabelSensitive: "sensitive_tools", "again": "safe_tools"},
	}
	want := []string{End, "safe_tools", "sensitive_tools"}
	if !reflect.DeepEqual(cond.Targets(), want) {
		t.Errorf("expected %v, got %v", want, cond.Targets())
	}
}

func TestClassifiers(t *testing.T) {
	search := NewState(UserText("q"), ToolRequest("", ToolCall{ID: "c1", Name: "search_hotels"}))
	book := NewState(UserText("q"), ToolRequest("", ToolCall{ID: "c1", Name: "book_hotel"}))
	bookSecond := NewState(ToolRequest("", ToolCall{ID: "c1", Name: "search_hotels"}, ToolCall{ID: "c2", Name: "book_hotel"}))
	text := NewState(UserText("q"), AssistantText("answer"))

	t.Run("tool dispatch", func(t *testing.T) {
		dispatch := ToolDispatch()
		if got := dispatch(search); got != LabelUseTools {
			t.Errorf("expected %s, got %s", LabelUseTools, got)
		}
		if got := dispatch(text); got != End {
			t.Errorf("expected End for text reply, got %s", got)
		}
		if got := dispatch(State{}); got != End {
			t.Errorf("expected End for empty state, got %s", got)
		}
	})

	t.Run("sensitivity", func(t *testing.T) {
		sensitive := Sensitivity("book_hotel")
		if got := sensitive(book); got != LabelSensitive {
			t.Errorf("book_hotel: expected %s, got %s", LabelSensitive, got)
		}
		if got := sensitive(search); got != LabelSafe {
			t.Errorf("search_hotels: expected %s, got %s", LabelSafe, got)
		}
		if got := sensitive(bookSecond); got != LabelSafe {
			t.Errorf("only the first call routes: got %s", got)
		}
	})

	t.Run("dispatch composes", func(t *testing.T) {
		route := Dispatch(ToolDispatch(), LabelUseTools, Sensitivity("book_hotel"))
		cases := map[string]State{LabelSensitive: book, LabelSafe: search, End: text}
		for want, state := range cases {
			if got := route(state); got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		route := Dispatch(ToolDispatch(), LabelUseTools, Sensitivity("book_hotel"))
		for i := 0; i < 10; i++ {
			if route(book) != LabelSensitive {
				t.Fatal("classifier result changed between calls")
			}
		}
	})
}
