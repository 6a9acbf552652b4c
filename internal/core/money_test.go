package core

import "testing"

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"12,3", 1230, true},
		{" 2.50 ", 250, true},
		{"-1", -100, true},
		{"-0.05", -5, true},
		{"+3.10", 310, true},
		{"0", 0, true},
		{".5", 50, true},
		{"1.005", 0, false}, // three fractional digits never round
		{"1.234", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"--1", 0, false},
		{".", 0, false},
		{"", 0, false},
		{"92233720368547757.99", 9223372036854775799, true}, // largest representable
		{"92233720368547758", 0, false},                     // overflows cents even with .00
		{"92233720368547758.99", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error, got %d", tc.in, got.Cents)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{100, "1.00"},
		{1234, "12.34"},
		{-1230, "-12.30"},
		{-5, "-0.05"},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).String(); got != tc.want {
			t.Fatalf("%d cents expected %q, got %q", tc.cents, tc.want, got)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Money{Cents: 150}
	b := Money{Cents: 70}

	if got := a.Add(b); got.Cents != 220 {
		t.Fatalf("Add expected 220, got %d", got.Cents)
	}
	if got := a.Sub(b); got.Cents != 80 {
		t.Fatalf("Sub expected 80, got %d", got.Cents)
	}
	if got := a.Neg(); got.Cents != -150 {
		t.Fatalf("Neg expected -150, got %d", got.Cents)
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Fatalf("Cmp ordering wrong")
	}
	if !(Money{}).IsZero() || a.IsZero() {
		t.Fatalf("IsZero wrong")
	}
	if !a.Neg().IsNegative() || a.IsNegative() {
		t.Fatalf("IsNegative wrong")
	}
}
