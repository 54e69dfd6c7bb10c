package account

import "testing"

func TestBalanceFormat(t *testing.T) {
	cases := []struct {
		bal  Balance
		want string
	}{
		{Balance{}, "0 WL"},
		{Balance{WL: 100}, "100 WL"},
		{Balance{WL: 70}, "70 WL"},
		{Balance{WL: 5, DL: 2}, "5 WL, 2 DL"},
		{Balance{WL: 1, DL: 2, BGL: 3}, "1 WL, 2 DL, 3 BGL"},
		{Balance{BGL: 1}, "1 BGL"},
	}
	for _, tc := range cases {
		if got := tc.bal.Format(); got != tc.want {
			t.Errorf("Format(%+v) = %q, want %q", tc.bal, got, tc.want)
		}
	}
}

func TestBalanceTotalWL(t *testing.T) {
	b := Balance{WL: 5, DL: 2, BGL: 1}
	if got := b.TotalWL(); got != 5+200+10000 {
		t.Fatalf("TotalWL = %d", got)
	}
}

func TestBalanceAddClampsAtZero(t *testing.T) {
	b := Balance{WL: 30}
	next := b.Add(-50, 0, 0)
	if next.WL != 0 {
		t.Fatalf("expected clamp to zero, got %d", next.WL)
	}
	next = b.Add(100, 1, 0)
	if next.WL != 130 || next.DL != 1 {
		t.Fatalf("unexpected sum: %+v", next)
	}
}

func TestBalanceDebit(t *testing.T) {
	// WL pocket covers the amount: other denominations untouched.
	b := Balance{WL: 150, DL: 3}
	next, ok := b.Debit(100)
	if !ok || next.WL != 50 || next.DL != 3 {
		t.Fatalf("plain debit: %+v %v", next, ok)
	}

	// WL short: larger locks break and the remainder renormalizes.
	b = Balance{WL: 10, DL: 1}
	next, ok = b.Debit(50)
	if !ok || next.TotalWL() != 60 {
		t.Fatalf("breaking debit: %+v %v", next, ok)
	}

	// Whole balance cannot cover.
	b = Balance{WL: 10}
	if _, ok := b.Debit(11); ok {
		t.Fatalf("expected debit refusal")
	}

	// Negative amounts are refused.
	if _, ok := b.Debit(-1); ok {
		t.Fatalf("expected refusal of negative amount")
	}
}
