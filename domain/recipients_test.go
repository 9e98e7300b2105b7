package domain

import (
	"reflect"
	"testing"
)

func TestRecipientsOrganizerPlusRSVPs(t *testing.T) {
	got := Recipients("org", "actor", []string{"u1", "u2"}, false)
	want := []string{"org", "u1", "u2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecipientsExcludesActor(t *testing.T) {
	got := Recipients("org", "u1", []string{"u1", "u2"}, false)
	want := []string{"org", "u2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecipientsIncludesActorWhenConfigured(t *testing.T) {
	got := Recipients("org", "u1", []string{"u1", "u2"}, true)
	want := []string{"org", "u1", "u2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecipientsDeduplicates(t *testing.T) {
	got := Recipients("org", "actor", []string{"org", "u1", "u1"}, false)
	want := []string{"org", "u1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecipientsActingOrganizer(t *testing.T) {
	// The organizer cancelling an attendee notification path: when the
	// organizer is the actor and self-notification is off, only the
	// RSVP'd users remain.
	got := Recipients("org", "org", []string{"u1"}, false)
	want := []string{"u1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
