package fixed

import (
	"math/big"
	"testing"
)

func bi(n int64) *big.Int { return big.NewInt(n) }

// --- Pow10 / USD ---

func TestPow10(t *testing.T) {
	tests := []struct {
		n    uint32
		want string
	}{
		{0, "1"},
		{1, "10"},
		{6, "1000000"},
		{18, "1000000000000000000"},
		{30, "1000000000000000000000000000000"},
		{40, "10000000000000000000000000000000000000000"}, // beyond the table
	}
	for _, tc := range tests {
		if got := Pow10(tc.n).String(); got != tc.want {
			t.Errorf("Pow10(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestPow10ReturnsFreshValue(t *testing.T) {
	a := Pow10(6)
	a.SetInt64(7)
	if Pow10(6).Cmp(bi(1_000_000)) != 0 {
		t.Error("mutating a Pow10 result corrupted the table")
	}
}

func TestUSD(t *testing.T) {
	if USD(3).Cmp(new(big.Int).Mul(bi(3), PricePrecision)) != 0 {
		t.Errorf("USD(3) = %s", USD(3))
	}
}

// --- MulDiv ---

func TestMulDivTruncates(t *testing.T) {
	if got := MulDiv(bi(10), bi(3), bi(4)); got.Cmp(bi(7)) != 0 {
		t.Errorf("MulDiv(10,3,4) = %s, want 7", got)
	}
	// Toward zero, not toward negative infinity.
	if got := MulDiv(bi(-10), bi(3), bi(4)); got.Cmp(bi(-7)) != 0 {
		t.Errorf("MulDiv(-10,3,4) = %s, want -7", got)
	}
}

func TestMulDivDoesNotMutateArguments(t *testing.T) {
	a, b, c := bi(10), bi(3), bi(4)
	MulDiv(a, b, c)
	if a.Cmp(bi(10)) != 0 || b.Cmp(bi(3)) != 0 || c.Cmp(bi(4)) != 0 {
		t.Error("MulDiv mutated an argument")
	}
}

// --- Token/USD conversions ---

func TestTokenToUSD(t *testing.T) {
	// 1000 USDC (6 decimals) at $1.
	price := USD(1)
	got := TokenToUSD(bi(1_000_000_000), price, 6)
	if got.Cmp(USD(1000)) != 0 {
		t.Errorf("TokenToUSD = %s, want %s", got, USD(1000))
	}
}

func TestUSDToToken(t *testing.T) {
	// $9000 of an 18-decimal token at $3000 is 3 tokens.
	price := USD(3000)
	got := USDToToken(USD(9000), price, 18)
	want := new(big.Int).Mul(bi(3), Pow10(18))
	if got.Cmp(want) != 0 {
		t.Errorf("USDToToken = %s, want %s", got, want)
	}
}

func TestRoundTripNeverGains(t *testing.T) {
	price := USD(3)
	amount := bi(1_000_001)
	back := USDToToken(TokenToUSD(amount, price, 6), price, 6)
	if back.Cmp(amount) > 0 {
		t.Errorf("round trip gained value: %s -> %s", amount, back)
	}
}

// --- AdjustDecimals ---

func TestAdjustDecimals(t *testing.T) {
	tests := []struct {
		amount   int64
		from, to uint32
		want     string
	}{
		{5, 6, 6, "5"},
		{5, 6, 18, "5000000000000"},
		{5_000_000_000_000, 18, 6, "5"},
		{5_999_999, 18, 12, "5"}, // floors
	}
	for _, tc := range tests {
		if got := AdjustDecimals(bi(tc.amount), tc.from, tc.to).String(); got != tc.want {
			t.Errorf("AdjustDecimals(%d, %d, %d) = %s, want %s",
				tc.amount, tc.from, tc.to, got, tc.want)
		}
	}
}

// --- Fees ---

func TestBasisPointsOf(t *testing.T) {
	if got := BasisPointsOf(bi(10_000), 30); got.Cmp(bi(30)) != 0 {
		t.Errorf("BasisPointsOf(10000, 30) = %s, want 30", got)
	}
}

func TestAfterFee(t *testing.T) {
	if got := AfterFee(bi(10_000), 30); got.Cmp(bi(9970)) != 0 {
		t.Errorf("AfterFee(10000, 30) = %s, want 9970", got)
	}
	if got := AfterFee(bi(10_000), 0); got.Cmp(bi(10_000)) != 0 {
		t.Errorf("AfterFee with zero bps should be identity, got %s", got)
	}
}

// --- Display ---

func TestUSDToDecimal(t *testing.T) {
	if got := USDToDecimal(USD(1500)).String(); got != "1500" {
		t.Errorf("USDToDecimal = %s, want 1500", got)
	}
}

func TestTokenToDecimal(t *testing.T) {
	if got := TokenToDecimal(bi(1_500_000), 6).String(); got != "1.5" {
		t.Errorf("TokenToDecimal = %s, want 1.5", got)
	}
}
