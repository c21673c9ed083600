package bench

import (
	"context"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/database"
)

func smallOptions() Options {
	return Options{
		Identities: 150,
		Queries:    60,
		Dim:        64,
		Noise:      0.02,
		Threshold:  0.7,
		Seed:       42,
		HNSW:       database.DefaultHNSWParams(),
	}
}

type countingProgress struct {
	added int
}

func (p *countingProgress) Add(num int) error {
	p.added += num
	return nil
}

func TestRun(t *testing.T) {
	var bars []*countingProgress
	progress := func(total int64, description string) Progress {
		p := &countingProgress{}
		bars = append(bars, p)
		return p
	}

	report, err := Run(context.Background(), smallOptions(), progress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Agreement < 0.99 {
		t.Errorf("expected agreement >= 0.99, got %.3f (%d disagreements)", report.Agreement, report.Disagreements)
	}
	if len(report.Strategies) != 2 {
		t.Fatalf("expected 2 strategy reports, got %d", len(report.Strategies))
	}
	if report.Strategies[0].Strategy != database.StrategyScan || report.Strategies[1].Strategy != database.StrategyHNSW {
		t.Errorf("unexpected strategy order %v, %v", report.Strategies[0].Strategy, report.Strategies[1].Strategy)
	}

	for _, sr := range report.Strategies {
		// every even query is a noisy copy of a registered face
		if sr.Matches < 30 {
			t.Errorf("%s: expected at least 30 matches, got %d", sr.Strategy, sr.Matches)
		}
		// random 64-d unit vectors stay far below 0.7
		if sr.Matches > 30 {
			t.Errorf("%s: expected unknown faces to stay unmatched, got %d matches", sr.Strategy, sr.Matches)
		}
		if sr.Latency.P50 > sr.Latency.P95 || sr.Latency.P95 > sr.Latency.Max {
			t.Errorf("%s: latency quantiles out of order: %+v", sr.Strategy, sr.Latency)
		}
	}

	if len(bars) != 4 {
		t.Fatalf("expected 4 progress bars (seed and query per strategy), got %d", len(bars))
	}
	for i, bar := range bars {
		want := 150
		if i%2 == 1 {
			want = 60
		}
		if bar.added != want {
			t.Errorf("bar %d: expected %d steps, got %d", i, want, bar.added)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	a, err := Run(context.Background(), smallOptions(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Run(context.Background(), smallOptions(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Strategies[0].Matches != b.Strategies[0].Matches {
		t.Errorf("same seed gave different match counts: %d vs %d", a.Strategies[0].Matches, b.Strategies[0].Matches)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr bool
	}{
		{"valid", func(o *Options) {}, false},
		{"no identities", func(o *Options) { o.Identities = 0 }, true},
		{"no queries", func(o *Options) { o.Queries = -1 }, true},
		{"zero dim", func(o *Options) { o.Dim = 0 }, true},
		{"negative noise", func(o *Options) { o.Noise = -0.1 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := smallOptions()
			tc.modify(&opts)
			err := opts.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	lat := summarize([]float64{40, 10, 30, 20})
	if lat.Max != 40 {
		t.Errorf("expected max 40, got %v", lat.Max)
	}
	if lat.Mean != 25 {
		t.Errorf("expected mean 25, got %v", lat.Mean)
	}
	if lat.P50 != 20 {
		t.Errorf("expected p50 20, got %v", lat.P50)
	}
}
