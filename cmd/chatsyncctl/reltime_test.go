package main

import (
	"testing"
	"time"
)

func TestRelTime(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want string
	}{
		{"2026-08-29T11:59:40Z", "now"},
		{"2026-08-29T11:55:00Z", "5m"},
		{"2026-08-29T10:00:00Z", "2h"},
		{"2026-08-27T10:00:00Z", "Aug 27"},
		{"", ""},
		{"not-a-time", "not-a-time"},
	}
	for _, tt := range tests {
		if got := relTime(tt.in, now); got != tt.want {
			t.Errorf("relTime(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlagsAnywhere(t *testing.T) {
	var sessionName, filter string
	var jsonOut bool
	args := parseFlags([]string{"conversations", "--json", "--session", "work", "--filter=ana"},
		&sessionName, &jsonOut, &filter)

	if len(args) != 1 || args[0] != "conversations" {
		t.Errorf("args = %v", args)
	}
	if !jsonOut || sessionName != "work" || filter != "ana" {
		t.Errorf("json=%v session=%q filter=%q", jsonOut, sessionName, filter)
	}
}
