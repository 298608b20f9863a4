package logger

import "testing"

func TestSanitizeKVs(t *testing.T) {
	got := sanitizeKVs([]interface{}{"session_id", "abc", "api_key", "sk-123", "Neo4j_Password", "pw", "dangling"})
	want := []interface{}{"session_id", "abc", "api_key", "[REDACTED]", "Neo4j_Password", "[REDACTED]", "dangling"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kv[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNopLoggerWith(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "k", "v")
	l.Debug("debug")
}
