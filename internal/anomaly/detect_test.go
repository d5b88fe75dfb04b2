package anomaly

import (
	"testing"
	"time"
)

// evenPopulation builds 10 sessions of 900s and 10 of 1100s: mean 1000s and
// population stddev exactly 100s.
func evenPopulation() []ObservedDuration {
	out := make([]ObservedDuration, 0, 20)
	for i := 0; i < 10; i++ {
		out = append(out, ObservedDuration{SessionID: "short", Seconds: 900})
		out = append(out, ObservedDuration{SessionID: "long", Seconds: 1100})
	}
	return out
}

func TestDetectInsufficientPopulation(t *testing.T) {
	snapshot := make([]ObservedDuration, 19)
	for i := range snapshot {
		snapshot[i] = ObservedDuration{SessionID: "s", Seconds: 600}
	}

	report := Detect("session-1", 500*time.Hour, snapshot)
	if report.Flagged {
		t.Error("expected no flag on an undersized population")
	}
	if report.Reason != ReasonInsufficientPopulation {
		t.Errorf("Reason = %q, want %q", report.Reason, ReasonInsufficientPopulation)
	}
	if report.PopulationMean != 0 || report.PopulationStdDev != 0 {
		t.Error("statistics must not be computed on an undersized population")
	}
}

func TestDetectFlagsOutlier(t *testing.T) {
	report := Detect("session-1", 1250*time.Second, evenPopulation())

	if report.PopulationMean != 1000 {
		t.Errorf("PopulationMean = %v, want 1000", report.PopulationMean)
	}
	if report.PopulationStdDev != 100 {
		t.Errorf("PopulationStdDev = %v, want 100", report.PopulationStdDev)
	}
	if report.Deviation != 250 {
		t.Errorf("Deviation = %v, want 250", report.Deviation)
	}
	if !report.Flagged {
		t.Error("expected deviation 250 > 2*100 to be flagged")
	}
	if report.Reason != "" {
		t.Errorf("unexpected reason %q", report.Reason)
	}
}

func TestDetectWithinBounds(t *testing.T) {
	report := Detect("session-1", 1150*time.Second, evenPopulation())
	if report.Flagged {
		t.Errorf("deviation %v within 2*stddev must not be flagged", report.Deviation)
	}

	// Exactly 2*stddev is not beyond it.
	report = Detect("session-1", 1200*time.Second, evenPopulation())
	if report.Flagged {
		t.Error("deviation equal to 2*stddev must not be flagged")
	}
}

func TestDetectIdempotent(t *testing.T) {
	snapshot := evenPopulation()
	first := Detect("session-1", 1250*time.Second, snapshot)
	second := Detect("session-1", 1250*time.Second, snapshot)
	if first != second {
		t.Errorf("identical inputs produced different reports: %+v vs %+v", first, second)
	}
}

func TestPopulationSnapshotIsolation(t *testing.T) {
	pop := NewPopulation()
	pop.Append("s1", 10*time.Minute)
	pop.Append("s2", 12*time.Minute)

	snapshot := pop.Snapshot()
	pop.Append("s3", 14*time.Minute)

	if len(snapshot) != 2 {
		t.Errorf("snapshot grew with the population: len = %d, want 2", len(snapshot))
	}

	// Writing through the snapshot must not reach the population.
	snapshot[0].Seconds = 1
	if fresh := pop.Snapshot(); fresh[0].Seconds == 1 {
		t.Error("mutating a snapshot changed the population")
	}

	if pop.Size() != 3 {
		t.Errorf("Size = %d, want 3", pop.Size())
	}
}

func TestPopulationRestore(t *testing.T) {
	pop := NewPopulation()
	pop.Append("stale", time.Minute)

	restored := []ObservedDuration{
		{SessionID: "a", Seconds: 600},
		{SessionID: "b", Seconds: 700},
	}
	pop.Restore(restored)

	snapshot := pop.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("Size after restore = %d, want 2", len(snapshot))
	}
	if snapshot[0].SessionID != "a" || snapshot[1].SessionID != "b" {
		t.Errorf("restore did not preserve order: %+v", snapshot)
	}

	// Restore copies its input.
	restored[0].Seconds = 1
	if fresh := pop.Snapshot(); fresh[0].Seconds == 1 {
		t.Error("mutating the restore slice changed the population")
	}
}

func TestObservedDurationRoundTrip(t *testing.T) {
	o := ObservedDuration{SessionID: "s", Seconds: 750}
	if got := o.Duration(); got != 750*time.Second {
		t.Errorf("Duration() = %v, want %v", got, 750*time.Second)
	}
}
