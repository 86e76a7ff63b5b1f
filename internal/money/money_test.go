package money

import (
	"testing"
)

func mustAsset(t *testing.T, code string) Asset {
	t.Helper()
	asset, err := GetAsset(code)
	if err != nil {
		t.Fatalf("GetAsset(%q): %v", code, err)
	}
	return asset
}

func TestFromMajor(t *testing.T) {
	usdc := Asset{Code: "USDC", Decimals: 6}

	tests := []struct {
		name       string
		major      string
		wantAtomic int64
		wantErr    bool
	}{
		{"one and a half", "1.5", 1500000, false},
		{"whole units", "10", 10000000, false},
		{"one base unit", "0.000001", 1, false},
		{"one cent", "0.01", 10000, false},
		{"rounds half up", "0.0000015", 2, false},
		{"rounds down below half", "0.0000014", 1, false},
		{"negative", "-5.25", -5250000, false},
		{"two decimal points", "10.50.30", 0, true},
		{"not a number", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMajor(usdc, tt.major)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromMajor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Atomic != tt.wantAtomic {
				t.Errorf("FromMajor() atomic = %v, want %v", got.Atomic, tt.wantAtomic)
			}
		})
	}
}

func TestToMajorAndAtomicRoundTrip(t *testing.T) {
	usdc := Asset{Code: "USDC", Decimals: 6}

	tests := []struct {
		atomic    int64
		wantMajor string
	}{
		{1500000, "1.500000"},
		{10000, "0.010000"},
		{0, "0.000000"},
		{-5250000, "-5.250000"},
	}
	for _, tt := range tests {
		m := New(usdc, tt.atomic)
		if got := m.ToMajor(); got != tt.wantMajor {
			t.Errorf("ToMajor(%d) = %q, want %q", tt.atomic, got, tt.wantMajor)
		}
		back, err := FromAtomic(usdc, m.ToAtomic())
		if err != nil || back.Atomic != tt.atomic {
			t.Errorf("FromAtomic(ToAtomic(%d)) = %v, %v", tt.atomic, back.Atomic, err)
		}
	}
}

func TestAddSub(t *testing.T) {
	usdc := Asset{Code: "USDC", Decimals: 6}
	usdt := Asset{Code: "USDT", Decimals: 6}

	a := New(usdc, 1500000)
	b := New(usdc, 250000)

	sum, err := a.Add(b)
	if err != nil || sum.Atomic != 1750000 {
		t.Errorf("Add = %v, %v", sum.Atomic, err)
	}
	diff, err := a.Sub(b)
	if err != nil || diff.Atomic != 1250000 {
		t.Errorf("Sub = %v, %v", diff.Atomic, err)
	}

	if _, err := a.Add(New(usdt, 1)); err == nil {
		t.Error("cross-asset Add must fail")
	}
}

func TestComparisons(t *testing.T) {
	usdc := Asset{Code: "USDC", Decimals: 6}

	small := New(usdc, 1)
	large := New(usdc, 2)

	if !small.LessThan(large) || large.LessThan(small) {
		t.Error("LessThan ordering wrong")
	}
	if !small.Equal(New(usdc, 1)) {
		t.Error("Equal should match same asset and amount")
	}
	if !small.IsPositive() || small.IsZero() {
		t.Error("sign predicates wrong")
	}
	if !Zero(usdc).IsZero() {
		t.Error("Zero should be zero")
	}
}

func TestAssetRegistry(t *testing.T) {
	usdc := mustAsset(t, "USDC")
	if usdc.Decimals != 6 {
		t.Errorf("USDC decimals = %d", usdc.Decimals)
	}

	addr, err := usdc.ContractAddress("base-sepolia")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Errorf("base-sepolia USDC contract = %q", addr)
	}

	if _, err := usdc.ContractAddress("unknown-net"); err == nil {
		t.Error("unknown network must error")
	}
	if _, err := GetAsset("DOGE"); err == nil {
		t.Error("unknown asset must error")
	}
}
