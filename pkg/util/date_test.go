package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnixSeconds(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 500_000_000, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(want.UnixMilli(), 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("garbage", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("15m")
	if err != nil || d != 15*time.Minute {
		t.Fatalf("got %v %v", d, err)
	}
	if _, err := ParseTimeframe("7m"); err == nil {
		t.Fatalf("expected error for unsupported timeframe")
	}
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 7, 42, 0, time.UTC)
	got := BucketStart(ts, 5*time.Minute)
	if !got.Equal(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket %v", got)
	}
}
