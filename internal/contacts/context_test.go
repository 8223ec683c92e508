package contacts

import (
	"strings"
	"testing"
)

func TestMentionedContext(t *testing.T) {
	s := newTestStore(t)
	ana := addContact(t, s, "Ana Lopez", "ana@example.com")
	if err := s.AddFact(ana.ID, FactOrg, "Lopez Lab"); err != nil {
		t.Fatal(err)
	}
	addContact(t, s, "Al")
	addContact(t, s, "Bo Chen")

	got := s.MentionedContext("Can you email ana about Friday?", 5)
	if !strings.HasPrefix(got, "People mentioned:\n") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "Ana Lopez (colleague), Lopez Lab <ana@example.com>") {
		t.Errorf("description = %q", got)
	}
	if strings.Contains(got, "Bo Chen") {
		t.Error("unmentioned contact included")
	}

	if got := s.MentionedContext("totally unrelated: alpha", 5); got != "" {
		t.Errorf("short first names must match whole words only, got %q", got)
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		s, word string
		want    bool
	}{
		{"meet bo today", "bo", true},
		{"bob is here", "bo", false},
		{"ping bo.", "bo", true},
		{"about", "bo", false},
	}
	for _, tt := range tests {
		if got := containsWord(tt.s, tt.word); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v", tt.s, tt.word, got)
		}
	}
}
