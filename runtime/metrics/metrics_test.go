package metrics

import "testing"

func snapshotOf(t *testing.T, name string) *MetricSnapshot {
	t.Helper()
	for _, s := range Snapshot() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("metric %q not in snapshot", name)
	return nil
}

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter")
	c.Inc()
	c.Inc()
	c.Add(3)

	if got, want := snapshotOf(t, "test_counter").Value, 5.0; got != want {
		t.Errorf("counter value: got %v, want %v", got, want)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge")
	g.Set(10)
	g.Add(5)
	g.Sub(2)

	if got, want := snapshotOf(t, "test_gauge").Value, 13.0; got != want {
		t.Errorf("gauge value: got %v, want %v", got, want)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_histogram", []float64{10, 100})
	h.Put(5)   // bucket 0
	h.Put(10)  // bucket 1, boundary values go up
	h.Put(50)  // bucket 1
	h.Put(500) // bucket 2

	s := snapshotOf(t, "test_histogram")
	if got, want := s.Counts, []uint64{1, 2, 1}; len(got) != len(want) {
		t.Fatalf("bucket count: got %d, want %d", len(got), len(want))
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("bucket %d: got %d, want %d", i, got[i], want[i])
			}
		}
	}
	if got, want := s.Value, 565.0; got != want {
		t.Errorf("sum: got %v, want %v", got, want)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	NewCounter("test_dup")
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register: expected panic")
		}
	}()
	NewCounter("test_dup")
}

func TestSnapshotIdsDistinct(t *testing.T) {
	NewCounter("test_id_a")
	NewCounter("test_id_b")

	a := snapshotOf(t, "test_id_a")
	b := snapshotOf(t, "test_id_b")
	if a.Id == 0 || b.Id == 0 {
		t.Error("snapshot ids must be initialized")
	}
	if a.Id == b.Id {
		t.Error("snapshot ids must be distinct")
	}
}
