package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestFeeCommandQuotesThousandDollarExample(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"fee", "--projects", "12", "--earnings", "6000000", "--amount", "100000"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	var q feeQuote
	if err := json.Unmarshal(out.Bytes(), &q); err != nil {
		t.Fatalf("output %q: %v", out.String(), err)
	}
	if q != (feeQuote{Rate: 15, Amount: 100000, PlatformFee: 15000, Net: 85000, Upfront: 15000}) {
		t.Fatalf("quote = %+v", q)
	}
}

func TestFeeCommandRejectsNegative(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"fee", "--amount", "-1"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s")
	var out bytes.Buffer
	cmd = rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--role", "consultant"})
	if err := cmd.Execute(); err != nil || out.Len() == 0 {
		t.Fatalf("token: %v %q", err, out.String())
	}
}
