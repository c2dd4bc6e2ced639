package joinkit

import "testing"

func TestCounterMetrics(t *testing.T) {
	recorder := NewCounterMetrics()
	recorder.Increment("bulk_join.joined")
	recorder.Increment("bulk_join.joined")
	recorder.Increment("bulk_join.failed")

	if got := recorder.Count("bulk_join.joined"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := recorder.Count("bulk_join.unknown"); got != 0 {
		t.Fatalf("expected 0 for unseen event, got %d", got)
	}

	snapshot := recorder.Snapshot()
	if len(snapshot) != 2 || snapshot["bulk_join.failed"] != 1 {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
	snapshot["bulk_join.failed"] = 99
	if recorder.Count("bulk_join.failed") != 1 {
		t.Fatal("expected snapshot to be a copy")
	}
}
