package money

import "testing"

func TestRawToHuman(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"10000", 6, "0.01"},
		{"1500000", 6, "1.5"},
		{"0", 6, "0"},
		{"1000000", 6, "1"},
		{"1", 6, "0.000001"},
		{"123456789012345678901234567890", 6, "123456789012345678901234.56789"},
		{"-10000", 6, "-0.01"},
		{"100", 0, "100"},
	}

	for _, tc := range cases {
		got, err := RawToHuman(tc.raw, tc.decimals)
		if err != nil {
			t.Fatalf("RawToHuman(%q, %d) error: %v", tc.raw, tc.decimals, err)
		}
		if got != tc.want {
			t.Errorf("RawToHuman(%q, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
		}
	}
}

func TestRawToHumanInvalid(t *testing.T) {
	if _, err := RawToHuman("not-a-number", 6); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
	if _, err := RawToHuman("", 6); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestHumanToRawRoundTrip(t *testing.T) {
	raw, err := HumanToRaw("0.01", 6)
	if err != nil {
		t.Fatalf("HumanToRaw error: %v", err)
	}
	if raw != "10000" {
		t.Fatalf("HumanToRaw(0.01, 6) = %q, want 10000", raw)
	}

	human, err := RawToHuman(raw, 6)
	if err != nil {
		t.Fatalf("RawToHuman error: %v", err)
	}
	if human != "0.01" {
		t.Fatalf("round trip mismatch: got %q", human)
	}
}

func TestHumanToRawTooPrecise(t *testing.T) {
	if _, err := HumanToRaw("0.0000001", 6); err == nil {
		t.Fatal("expected error for excess precision")
	}
}
