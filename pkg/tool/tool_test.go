package tool

import "testing"

func TestStaticClassifierKnowsDefaultSafeNames(t *testing.T) {
	c := NewStaticClassifier()
	if !c.IsSafe("fetch_url") {
		t.Error("fetch_url should be in the default safe set")
	}
	if c.IsSafe("mutate_database") {
		t.Error("mutate_database should not be safe by default")
	}
}

func TestStaticClassifierExtraAndMarkSafe(t *testing.T) {
	c := NewStaticClassifier("custom_reader")
	if !c.IsSafe("custom_reader") {
		t.Error("extra name passed at construction should be safe")
	}

	if c.IsSafe("late_addition") {
		t.Error("late_addition should not be safe before MarkSafe")
	}
	c.MarkSafe("late_addition")
	if !c.IsSafe("late_addition") {
		t.Error("late_addition should be safe after MarkSafe")
	}
}
