package email

import (
	"reflect"
	"testing"
)

type knownSet map[string]bool

func (k knownSet) IsKnownEmail(addr string) bool { return k[addr] }

func TestUnknownRecipients(t *testing.T) {
	known := knownSet{"dana@example.com": true}

	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{"all known", [][]string{{"dana@example.com"}}, nil},
		{"display name stripped", [][]string{{"Dana <DANA@example.com>"}}, nil},
		{"unknown reported once", [][]string{{"x@example.com"}, {"X@example.com"}}, []string{"x@example.com"}},
		{"order kept", [][]string{{"b@example.com", "dana@example.com", "a@example.com"}}, []string{"b@example.com", "a@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnknownRecipients(known, tt.lists...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UnknownRecipients = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnknownRecipients_NilChecker(t *testing.T) {
	if got := UnknownRecipients(nil, []string{"anyone@example.com"}); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestRecipientWarning(t *testing.T) {
	if got := RecipientWarning(nil); got != "" {
		t.Errorf("got %q", got)
	}
	if got := RecipientWarning([]string{"a@x.com"}); got != "Note: a@x.com is not in your contacts." {
		t.Errorf("got %q", got)
	}
	if got := RecipientWarning([]string{"a@x.com", "b@x.com"}); got != "Note: a@x.com, b@x.com are not in your contacts." {
		t.Errorf("got %q", got)
	}
}
