package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"50000":  50000,
		"12.5":   12.5,
		"100000": 100000,
	}
	for input, expect := range cases {
		got, err := parseAmount(input)
		if err != nil || got != expect {
			t.Fatalf("%s: expected %v, got %v err=%v", input, expect, got, err)
		}
	}
	for _, bad := range []string{"", "0", "-5", "abc"} {
		if _, err := parseAmount(bad); err == nil {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}

func TestTerminalTracksLocation(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out, false)
	if term.location() != "/" {
		t.Fatalf("expected landing path, got %q", term.location())
	}
	term.visit("/student/courses/C1")
	term.Navigate("/student/wallet")
	term.Notice("signed out")
	term.openPayment("https://pay.example/checkout/1")

	if term.location() != "/student/wallet" {
		t.Fatalf("unexpected location %q", term.location())
	}
	text := out.String()
	for _, want := range []string{"-> /student/wallet", "! signed out", "https://pay.example/checkout/1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output %q", want, text)
		}
	}
}
