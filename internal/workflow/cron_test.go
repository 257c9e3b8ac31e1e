package workflow

import (
	"testing"
	"time"
)

func TestParseCronNamedShortcut(t *testing.T) {
	sched, err := parseCron("@every5min")
	if err != nil {
		t.Fatal(err)
	}
	if !sched.Matches(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Error("expected match at minute 0")
	}
	if !sched.Matches(time.Date(2026, 1, 1, 9, 5, 0, 0, time.UTC)) {
		t.Error("expected match at minute 5")
	}
	if sched.Matches(time.Date(2026, 1, 1, 9, 7, 0, 0, time.UTC)) {
		t.Error("did not expect match at minute 7")
	}
}

func TestParseCronStepRangeList(t *testing.T) {
	sched, err := parseCron("*/15 9-17 * * 1,3,5")
	if err != nil {
		t.Fatal(err)
	}
	// Thursday 2026-01-01 is a Thursday (weekday 4); expect no match.
	if sched.Matches(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Error("did not expect match on a non-listed weekday")
	}
	// Friday 2026-01-02, weekday 5.
	if !sched.Matches(time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)) {
		t.Error("expected match on listed weekday within hour range at step boundary")
	}
}

func TestParseCronInvalidFieldCount(t *testing.T) {
	if _, err := parseCron("* * *"); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}
