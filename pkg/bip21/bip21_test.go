package bip21

import "testing"

func TestParseRoundTrip(t *testing.T) {
	in := "bitcoin:1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa?amount=0.01&label=Test&message=hello%20there"
	u, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Address != "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" {
		t.Fatalf("address mismatch: %s", u.Address)
	}
	if u.Amount == nil || *u.Amount != 0.01 {
		t.Fatalf("amount mismatch: %v", u.Amount)
	}
	if u.Label != "Test" {
		t.Fatalf("label mismatch: %s", u.Label)
	}
	if u.Message != "hello there" {
		t.Fatalf("message mismatch: %q", u.Message)
	}
}

func TestParseRejectsBadScheme(t *testing.T) {
	if _, err := Parse("ethereum:0xabc"); err != ErrInvalidScheme {
		t.Fatalf("expected ErrInvalidScheme, got %v", err)
	}
}

func TestParseRejectsMissingAddress(t *testing.T) {
	if _, err := Parse("bitcoin:?amount=1"); err != ErrMissingAddress {
		t.Fatalf("expected ErrMissingAddress, got %v", err)
	}
}

func TestParseRejectsNonPositiveAmount(t *testing.T) {
	cases := []string{
		"bitcoin:addr?amount=0",
		"bitcoin:addr?amount=-1",
		"bitcoin:addr?amount=notanumber",
	}
	for _, c := range cases {
		if _, err := Parse(c); err != ErrInvalidAmount {
			t.Fatalf("%s: expected ErrInvalidAmount, got %v", c, err)
		}
	}
}

func TestParsePreservesUnknownKeys(t *testing.T) {
	u, err := Parse("bitcoin:addr?req-network=mainnet")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Params["req-network"] != "mainnet" {
		t.Fatalf("expected unknown param preserved, got %v", u.Params)
	}
}

func TestStringRoundTrip(t *testing.T) {
	amt := 1.5
	u := &URI{Address: "addr1", Amount: &amt, Label: "coffee"}
	s := u.String()
	reparsed, err := Parse(s)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Address != u.Address || *reparsed.Amount != *u.Amount || reparsed.Label != u.Label {
		t.Fatalf("round trip mismatch: %+v vs %+v", u, reparsed)
	}
}
