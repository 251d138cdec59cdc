package observability

import (
	"sync"
	"testing"
	"time"
)

func TestRecordSeriesConcurrent(t *testing.T) {
	qs := NewQueryStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordSeries(SeriesEvent{Metric: "ADM_RATE", College: "Beta College", YearsPruned: 1})
				qs.RecordSeries(SeriesEvent{Metric: "SAT_AVG", College: "Alpha University", Empty: true})
			}
		}()
	}
	wg.Wait()

	expected := int64(numGoroutines * recordsPerGoroutine)
	sum := qs.Summary(10)
	if sum.Requests != 2*expected {
		t.Errorf("expected %d requests, got %d", 2*expected, sum.Requests)
	}
	if sum.Empty != expected {
		t.Errorf("expected %d empty, got %d", expected, sum.Empty)
	}
	if sum.YearsPruned != expected {
		t.Errorf("expected %d pruned years, got %d", expected, sum.YearsPruned)
	}
	for _, s := range sum.TopMetrics {
		if s.Frequency != expected {
			t.Errorf("expected frequency %d for %s, got %d", expected, s.Key, s.Frequency)
		}
	}
}

func TestTopMetricsOrdering(t *testing.T) {
	qs := NewQueryStats(time.Hour)
	record := func(metric string, n int) {
		for i := 0; i < n; i++ {
			qs.RecordSeries(SeriesEvent{Metric: metric, College: "Beta College"})
		}
	}
	record("ADM_RATE", 10)
	record("SAT_AVG", 5)
	record("UGDS", 20)
	record("C150_4", 5)

	got := qs.TopMetrics(3)
	want := []string{"UGDS", "ADM_RATE", "C150_4"}
	if len(got) != len(want) {
		t.Fatalf("expected %d metrics, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Key != w {
			t.Errorf("position %d: expected %s, got %s", i, w, got[i].Key)
		}
	}

	if all := qs.TopColleges(10); len(all) != 1 || all[0].Frequency != 40 {
		t.Errorf("unexpected college stats: %+v", all)
	}
	if empty := qs.TopMetrics(0); len(empty) != 0 {
		t.Errorf("expected no metrics for n=0, got %d", len(empty))
	}
}

func TestTopReturnsCopies(t *testing.T) {
	qs := NewQueryStats(time.Hour)
	qs.RecordSeries(SeriesEvent{Metric: "ADM_RATE", College: "Beta College"})

	got := qs.TopMetrics(1)
	got[0].Frequency = 99
	if again := qs.TopMetrics(1); again[0].Frequency != 1 {
		t.Errorf("internal state modified through returned slice: %d", again[0].Frequency)
	}
}

func TestPrune(t *testing.T) {
	qs := NewQueryStats(time.Minute)
	base := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	qs.now = func() time.Time { return base }
	qs.RecordSeries(SeriesEvent{Metric: "OLD", College: "Old College"})

	qs.now = func() time.Time { return base.Add(2 * time.Minute) }
	qs.RecordSeries(SeriesEvent{Metric: "NEW", College: "New College"})
	qs.Prune()

	metrics := qs.TopMetrics(10)
	if len(metrics) != 1 || metrics[0].Key != "NEW" {
		t.Errorf("expected only NEW to survive, got %+v", metrics)
	}
	if colleges := qs.TopColleges(10); len(colleges) != 1 || colleges[0].Key != "New College" {
		t.Errorf("expected only New College to survive, got %+v", colleges)
	}
	if sum := qs.Summary(10); sum.Requests != 2 {
		t.Errorf("expected totals to survive pruning, got %d requests", sum.Requests)
	}
}
