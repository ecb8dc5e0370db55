package crm

import (
	"errors"
	"fmt"
	"testing"
)

func TestInMemoryCapturePlanStore(t *testing.T) {
	store := NewInMemoryCapturePlanStore()

	plan := &CapturePlan{ID: "plan-1", OwnerID: "user-1", OpportunityID: "opp-1", Stage: StageIdentified}
	if err := store.Create(plan); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(&CapturePlan{ID: "plan-1"}); err == nil {
		t.Error("Create accepted a duplicate ID")
	}

	got, err := store.Get("plan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageIdentified {
		t.Errorf("stage = %s", got.Stage)
	}

	// The returned value is a copy: mutating it must not leak into the
	// store until Save.
	got.Stage = StagePursuit
	fresh, _ := store.Get("plan-1")
	if fresh.Stage != StageIdentified {
		t.Error("Get must return a copy")
	}

	created := fresh.CreatedAt
	if err := store.Save(got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, _ := store.Get("plan-1")
	if saved.Stage != StagePursuit {
		t.Errorf("stage after save = %s", saved.Stage)
	}
	if !saved.CreatedAt.Equal(created) {
		t.Error("Save must preserve CreatedAt")
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
	if err := store.Save(&CapturePlan{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save missing err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryOpportunityStore(t *testing.T) {
	store := NewInMemoryOpportunityStore()

	opp := &Opportunity{ID: "opp-1", OwnerID: "user-1", Title: "Cybersecurity support"}
	if err := store.Create(opp); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get("opp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Description = "[tag:reviewed]"
	if err := store.Save(got); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved, _ := store.Get("opp-1")
	if saved.Description != "[tag:reviewed]" {
		t.Errorf("description = %q", saved.Description)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryNotificationStore(t *testing.T) {
	store := NewInMemoryNotificationStore()

	for i := 0; i < 4; i++ {
		user := "user-1"
		if i == 3 {
			user = "user-2"
		}
		if err := store.Create(&Notification{
			ID:     fmt.Sprintf("n-%d", i),
			UserID: user,
			Title:  fmt.Sprintf("Notice %d", i),
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	notifications, err := store.ListForUser("user-1", 2, 0)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifications))
	}
	if notifications[0].ID != "n-2" {
		t.Errorf("first notification = %s, want newest first", notifications[0].ID)
	}

	rest, _ := store.ListForUser("user-1", 10, 2)
	if len(rest) != 1 || rest[0].ID != "n-0" {
		t.Errorf("offset listing = %v", rest)
	}

	if other, _ := store.ListForUser("user-3", 10, 0); len(other) != 0 {
		t.Errorf("unknown user got %d notifications", len(other))
	}
}

func TestInMemoryPartnerStoreMatchByNAICS(t *testing.T) {
	store := NewInMemoryPartnerStore()

	seed := []*Partner{
		{ID: "p-1", Name: "Beta Systems", NAICSCode: "541512", Public: true},
		{ID: "p-2", Name: "Alpha Corp", NAICSCode: "541512", Public: true},
		{ID: "p-3", Name: "Hidden LLC", NAICSCode: "541512", Public: false},
		{ID: "p-4", Name: "Other Co", NAICSCode: "238210", Public: true},
	}
	for _, p := range seed {
		if err := store.Create(p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	matches, err := store.MatchByNAICS("541512")
	if err != nil {
		t.Fatalf("MatchByNAICS: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (public only)", len(matches))
	}
	if matches[0].Name != "Alpha Corp" || matches[1].Name != "Beta Systems" {
		t.Errorf("matches not ordered by name: %s, %s", matches[0].Name, matches[1].Name)
	}

	if none, _ := store.MatchByNAICS("999999"); len(none) != 0 {
		t.Errorf("unknown code got %d matches", len(none))
	}
}
