package loader

import (
	"testing"
	"time"
)

func TestNextVersionFirstLoad(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := NextVersion("", now)
	if want := "2026073101"; got != want {
		t.Errorf("NextVersion(\"\", now) = %q, want %q", got, want)
	}
}

func TestNextVersionSameDayIncrements(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := NextVersion("2026073101", now)
	if want := "2026073102"; got != want {
		t.Errorf("NextVersion = %q, want %q", got, want)
	}
}

func TestNextVersionDifferentDayWithTrailingDigits(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 5, 0, 0, time.UTC)
	got := NextVersion("2026073109", now)
	if want := "2026073110"; got != want {
		t.Errorf("NextVersion = %q, want %q", got, want)
	}
}

func TestNextVersionNoTrailingDigits(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := NextVersion("v", now)
	if want := "v1"; got != want {
		t.Errorf("NextVersion = %q, want %q", got, want)
	}
}

func TestValidateInputVersionRejectsLatest(t *testing.T) {
	if err := ValidateInputVersion("latest"); err == nil {
		t.Fatal("expected error for \"latest\"")
	}
	if err := ValidateInputVersion("v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
