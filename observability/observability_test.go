package observability

import "testing"

func TestFields(t *testing.T) {
	if f := String("k", "v"); f.Key() != "k" || f.Value() != "v" {
		t.Errorf("String field = %v %v", f.Key(), f.Value())
	}
	if f := Int("n", 3); f.Value() != 3 {
		t.Errorf("Int field = %v", f.Value())
	}
	if f := Int64("o", int64(9)); f.Value() != int64(9) {
		t.Errorf("Int64 field = %v", f.Value())
	}
	if f := Bool("b", true); f.Value() != true {
		t.Errorf("Bool field = %v", f.Value())
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	var l Logger = NopLogger{}
	l.Info("msg", String("k", "v"))
	l.With(Int("n", 1)).Error("still fine")
}
