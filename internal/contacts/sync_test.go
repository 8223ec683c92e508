package contacts

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	cards []Card
	err   error
}

func (f *fakeSource) Name() string { return "home" }

func (f *fakeSource) Cards(context.Context) ([]Card, error) { return f.cards, f.err }

func TestSyncer_Sync(t *testing.T) {
	s := newTestStore(t)
	syncer := NewSyncer(s, discardLogger())
	src := &fakeSource{cards: []Card{
		{UID: "1", Name: "Ana Lopez", Kind: "person", Emails: []string{"ana@example.com"}, Org: "Lopez Lab"},
		{UID: "2", Name: "Bo Chen", Kind: "person", Phones: []string{"555"}},
	}}

	res, err := syncer.Sync(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 || res.Updated != 0 || res.Source != "home" {
		t.Errorf("first sync = %+v", res)
	}

	ana, err := s.FindByEmail("ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	ana.Relationship = "collaborator"
	if _, err := s.Upsert(ana); err != nil {
		t.Fatal(err)
	}

	src.cards[0].Name = "Ana López"
	src.cards[0].Emails = []string{"ana@newlab.org"}
	res, err = syncer.Sync(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 || res.Updated != 2 {
		t.Errorf("second sync = %+v", res)
	}

	got, err := s.Get(ana.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ana López" || got.Relationship != "collaborator" {
		t.Errorf("after resync = %+v", got)
	}
	if s.IsKnownEmail("ana@example.com") || !s.IsKnownEmail("ana@newlab.org") {
		t.Error("emails should follow the remote card")
	}
	if got.Facts[FactOrg][0] != "Lopez Lab" {
		t.Errorf("org = %v", got.Facts[FactOrg])
	}
}

func TestSyncer_SourceError(t *testing.T) {
	syncer := NewSyncer(newTestStore(t), discardLogger())
	if _, err := syncer.Sync(context.Background(), &fakeSource{err: errors.New("401")}); err == nil {
		t.Error("expected error")
	}
}
