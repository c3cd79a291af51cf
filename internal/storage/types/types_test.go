package types

import (
	"testing"
	"time"
)

func TestBucketStartMs(t *testing.T) {
	// 2026-03-14 15:42:07.123 UTC
	ts := time.Date(2026, 3, 14, 15, 42, 7, 123_000_000, time.UTC).UnixMilli()

	hour := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC).UnixMilli()
	if got := BucketStartMs(ts, GranularityHourly); got != hour {
		t.Errorf("hourly bucket = %d, expected %d", got, hour)
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC).UnixMilli()
	if got := BucketStartMs(ts, GranularityDaily); got != day {
		t.Errorf("daily bucket = %d, expected %d", got, day)
	}

	// Exact bucket boundary belongs to its own bucket
	if got := BucketStartMs(hour, GranularityHourly); got != hour {
		t.Errorf("boundary bucket = %d, expected %d", got, hour)
	}
}

func TestBucketStartMsNegative(t *testing.T) {
	// Pre-epoch timestamps round toward negative infinity, not zero
	ts := int64(-1)
	want := -time.Hour.Milliseconds()
	if got := BucketStartMs(ts, GranularityHourly); got != want {
		t.Errorf("BucketStartMs(-1, hourly) = %d, expected %d", got, want)
	}

	boundary := -time.Hour.Milliseconds()
	if got := BucketStartMs(boundary, GranularityHourly); got != boundary {
		t.Errorf("negative boundary = %d, expected %d", got, boundary)
	}
}

func TestBucketEndMs(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 42, 0, 0, time.UTC).UnixMilli()
	want := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC).UnixMilli()
	if got := BucketEndMs(ts, GranularityHourly); got != want {
		t.Errorf("hourly bucket end = %d, expected %d", got, want)
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		input   string
		want    Granularity
		wantErr bool
	}{
		{"hourly", GranularityHourly, false},
		{"hour", GranularityHourly, false},
		{"", GranularityHourly, false},
		{"daily", GranularityDaily, false},
		{"day", GranularityDaily, false},
		{"weekly", GranularityHourly, true},
	}

	for _, tt := range tests {
		got, err := ParseGranularity(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGranularity(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseGranularity(%q) = %v, expected %v", tt.input, got, tt.want)
		}
	}
}

func TestGranularityRoundTrip(t *testing.T) {
	for _, g := range AllGranularities() {
		parsed, err := ParseGranularity(g.String())
		if err != nil {
			t.Errorf("ParseGranularity(%s): %v", g, err)
		}
		if parsed != g {
			t.Errorf("round trip %v -> %s -> %v", g, g, parsed)
		}
	}
}

func TestWriteEventKeys(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 42, 0, 0, time.UTC).UnixMilli()
	r := Reading{
		ClientID:    "acme",
		MachineID:   "press-01",
		SensorType:  "multi",
		TimestampMs: ts,
	}

	keys := NewWriteEvent(&r).Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	hour := BucketStartMs(ts, GranularityHourly)
	day := BucketStartMs(ts, GranularityDaily)
	if keys[0].Granularity != GranularityHourly || keys[0].BucketStart != hour {
		t.Errorf("unexpected hourly key: %+v", keys[0])
	}
	if keys[1].Granularity != GranularityDaily || keys[1].BucketStart != day {
		t.Errorf("unexpected daily key: %+v", keys[1])
	}
	for _, k := range keys {
		if k.MachineID != "press-01" || k.ClientID != "acme" {
			t.Errorf("key identity mismatch: %+v", k)
		}
	}
}

func TestReadingFields(t *testing.T) {
	temp := 71.5
	vib := 2.2
	r := Reading{Temperature: &temp, Vibration: &vib}

	fields := r.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields["temperature"] != 71.5 || fields["vibration"] != 2.2 {
		t.Errorf("unexpected fields: %v", fields)
	}
}
