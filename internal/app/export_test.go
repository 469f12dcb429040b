package app

import (
	"testing"
	"time"

	"lending-health-alerts/internal/storage"
)

func sampleSeries(n int) []storage.HealthSample {
	samples := make([]storage.HealthSample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, storage.HealthSample{
			CheckedAt: time.Unix(int64(i)*60, 0).UTC(),
		})
	}
	return samples
}

func TestDownsampleSamplesPassthrough(t *testing.T) {
	samples := sampleSeries(5)

	if got := downsampleSamples(samples, 0); len(got) != 5 {
		t.Fatalf("max=0 should keep all samples, got %d", len(got))
	}
	if got := downsampleSamples(samples, 10); len(got) != 5 {
		t.Fatalf("max above len should keep all samples, got %d", len(got))
	}
}

func TestDownsampleSamplesSinglePoint(t *testing.T) {
	samples := sampleSeries(5)

	got := downsampleSamples(samples, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if !got[0].CheckedAt.Equal(samples[4].CheckedAt) {
		t.Fatalf("max=1 should keep the newest sample, got %s", got[0].CheckedAt)
	}
}

func TestDownsampleSamplesKeepsEndpoints(t *testing.T) {
	samples := sampleSeries(101)

	got := downsampleSamples(samples, 11)
	if len(got) != 11 {
		t.Fatalf("expected 11 samples, got %d", len(got))
	}
	if !got[0].CheckedAt.Equal(samples[0].CheckedAt) {
		t.Fatalf("first sample should survive, got %s", got[0].CheckedAt)
	}
	if !got[10].CheckedAt.Equal(samples[100].CheckedAt) {
		t.Fatalf("last sample should survive, got %s", got[10].CheckedAt)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].CheckedAt.After(got[i-1].CheckedAt) {
			t.Fatalf("samples out of order at index %d", i)
		}
	}
}
