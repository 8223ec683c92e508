package specialist

import (
	"context"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/tools"
)

type nopLLM struct{}

func (nopLLM) Chat(context.Context, llm.Request) (*llm.ChatResponse, error) { return nil, nil }
func (nopLLM) ChatStream(context.Context, llm.Request, llm.StreamCallback) (*llm.ChatResponse, error) {
	return nil, nil
}
func (nopLLM) Ping(context.Context) error { return nil }

func testSpecialists() map[Type]*Specialist {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAll(Deps{
		Client:   nopLLM{},
		Executor: tools.NewExecutor(tools.NewEmptyRegistry(), logger),
		Logger:   logger,
	})
}

func TestScores(t *testing.T) {
	specs := testSpecialists()

	tests := []struct {
		typ  Type
		msg  string
		want float64
	}{
		{Calendar, "What meetings do I have on my calendar?", 0.6},
		{Calendar, "anything on Friday", 0.4},
		{Calendar, "hello there", 0},
		{Email, "Any unread email in my inbox?", 0.75},
		{Email, "ping ada@example.com", 0.6},
		{Email, "drafting a note", 0.6},
		{GitHub, "show my open PRs", 0.5},
		{GitHub, "look at acme/api", 0.3},
		{GitHub, "what about #42", 0.5},
		{Research, "add a todo for tomorrow", 0.9},
		{Research, "open my Notion roadmap", 0.9},
		{Research, "search for the grant document", 0.4},
		{Research, "how big is the moon", 0.25},
		{Research, "hmm", 0.1},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.msg, func(t *testing.T) {
			got := specs[tt.typ].Score(tt.msg)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestScoreCapped(t *testing.T) {
	got := testSpecialists()[GitHub].Score("github repo pr issue commit branch merge")
	if got != 0.95 {
		t.Errorf("score = %v, want cap 0.95", got)
	}
}

func TestWords(t *testing.T) {
	got := Words("Hey, what's on the To-Do list?!")
	for _, w := range []string{"hey", "what's", "to-do", "list"} {
		if !got[w] {
			t.Errorf("missing %q in %v", w, got)
		}
	}
	if got["list?!"] || got["hey,"] {
		t.Errorf("punctuation not stripped: %v", got)
	}
}

func TestToolSets(t *testing.T) {
	specs := testSpecialists()
	for _, typ := range Types {
		s := specs[typ]
		if s.Loop() == nil || s.Loop().Type() != string(typ) {
			t.Errorf("%s: loop not built", typ)
		}
		last := s.ToolNames[len(s.ToolNames)-1]
		if last != tools.RespondToUser {
			t.Errorf("%s: respond tool missing", typ)
		}
	}
	want := []string{"GetCalendarEventsTool", "CheckAvailabilityTool", tools.RespondToUser}
	if got := specs[Calendar].ToolNames; !slices.Equal(got, want) {
		t.Errorf("calendar tools = %v, want %v", got, want)
	}
	if n := len(specs[Research].ToolNames); n != 13 {
		t.Errorf("research tools = %d, want 13", n)
	}
	if specs[Calendar].MaxIterations != 4 || specs[Research].MaxIterations != 6 {
		t.Error("unexpected iteration caps")
	}
}
