package metrics

import (
	"testing"
	"time"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid bucket floors down",
			in:   time.Date(2026, 3, 14, 10, 7, 33, 0, time.UTC),
			want: time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC),
		},
		{
			name: "exact boundary unchanged",
			in:   time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC),
			want: time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC),
		},
		{
			name: "one nanosecond before boundary",
			in:   time.Date(2026, 3, 14, 10, 4, 59, 999999999, time.UTC),
			want: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "non-utc input normalized",
			in:   time.Date(2026, 3, 14, 12, 7, 0, 0, time.FixedZone("CET", 3600)),
			want: time.Date(2026, 3, 14, 11, 5, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketStart(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("BucketStart(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("BucketStart(%v) location = %v, want UTC", tt.in, got.Location())
			}
		})
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in      string
		want    Granularity
		wantErr bool
	}{
		{in: "5m", want: GranularityBucket},
		{in: "hour", want: GranularityHour},
		{in: "day", want: GranularityDay},
		{in: "", want: GranularityBucket},
		{in: "week", wantErr: true},
		{in: "5M", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("input="+tt.in, func(t *testing.T) {
			got, err := ParseGranularity(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseGranularity(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGranularity(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseGranularity(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBucketExpr(t *testing.T) {
	if got := GranularityBucket.bucketExpr(); got != "bucket_start" {
		t.Errorf("5m expr = %q", got)
	}
	if got := GranularityHour.bucketExpr(); got != "date_trunc('hour', bucket_start)" {
		t.Errorf("hour expr = %q", got)
	}
	if got := GranularityDay.bucketExpr(); got != "date_trunc('day', bucket_start)" {
		t.Errorf("day expr = %q", got)
	}
}

func TestCacheHitRatio(t *testing.T) {
	tests := []struct {
		name      string
		cacheRead int64
		input     int64
		want      float64
	}{
		{name: "empty range", cacheRead: 0, input: 0, want: 0},
		{name: "all cached", cacheRead: 500, input: 0, want: 100},
		{name: "no cache", cacheRead: 0, input: 500, want: 0},
		{name: "three quarters", cacheRead: 750, input: 250, want: 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheHitRatio(tt.cacheRead, tt.input); got != tt.want {
				t.Errorf("CacheHitRatio(%d, %d) = %v, want %v", tt.cacheRead, tt.input, got, tt.want)
			}
		})
	}
}
