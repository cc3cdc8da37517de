package testutil

import "testing"

// Given, When and Then name nested subtests after the scenario step they
// describe, so upsert scenarios read as "Given .../When .../Then ..." in
// test output.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", desc, fn)
}

func step(t *testing.T, kind, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(kind+" "+desc, fn)
}
