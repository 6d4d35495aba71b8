package kv

import (
	"bytes"
	"testing"
)

func TestSubjectKeyRoundTrip(t *testing.T) {
	subj := Subject{ChatID: -1001234567890, UserID: 42}
	key := TriggerKey(subj)
	got, ok := SplitSubjectKey(PrefixTrigger, key)
	if !ok {
		t.Fatalf("SplitSubjectKey(%q) not ok", key)
	}
	if got != subj {
		t.Errorf("subject = %+v, want %+v", got, subj)
	}
}

func TestSplitSubjectKeyRejectsOtherPrefix(t *testing.T) {
	key := CooldownKey(Subject{ChatID: 1, UserID: 2})
	if _, ok := SplitSubjectKey(PrefixTrigger, key); ok {
		t.Error("cooldown key parsed as trigger key")
	}
}

func TestSplitLegacyTriggerKey(t *testing.T) {
	got, ok := SplitLegacyTriggerKey([]byte("verify|-100555:77"))
	if !ok {
		t.Fatal("legacy trigger key did not parse")
	}
	want := Subject{ChatID: -100555, UserID: 77}
	if got != want {
		t.Errorf("subject = %+v, want %+v", got, want)
	}
	if _, ok := SplitLegacyTriggerKey([]byte("verify|garbage")); ok {
		t.Error("malformed legacy key parsed")
	}
}

func TestDueKeyOrdering(t *testing.T) {
	early := DueKey("cleanup", 100, "a")
	late := DueKey("cleanup", 200, "a")
	if bytes.Compare(early, late) >= 0 {
		t.Error("earlier due key does not sort before later one")
	}

	dueNs, id, ok := SplitDueKey("cleanup", late)
	if !ok {
		t.Fatal("due key did not parse")
	}
	if dueNs != 200 || id != "a" {
		t.Errorf("parsed (%d, %q), want (200, \"a\")", dueNs, id)
	}
}

func TestDueBoundIsExclusive(t *testing.T) {
	at := DueKey("q", 100, "x")
	bound := DueBound("q", 100)
	if bytes.Compare(at, bound) >= 0 {
		t.Error("entry due exactly at the bound time must fall inside the bound")
	}
}

func TestParseSubject(t *testing.T) {
	subj := Subject{ChatID: -42, UserID: 7}
	got, err := ParseSubject(subj.String())
	if err != nil {
		t.Fatalf("ParseSubject: %v", err)
	}
	if got != subj {
		t.Errorf("subject = %+v, want %+v", got, subj)
	}
	if _, err := ParseSubject("nonsense"); err == nil {
		t.Error("malformed subject parsed without error")
	}
}

func TestRateLimitKeyIsolatesAlgorithms(t *testing.T) {
	subj := Subject{ChatID: 1, UserID: 2}
	a := RateLimitKey("fixed", "start", subj)
	b := RateLimitKey("token", "start", subj)
	if bytes.Equal(a, b) {
		t.Error("different algorithms share a state key")
	}
}
