package ledger

import (
	"errors"
	"testing"
)

func TestNewCreditsRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -1, -100} {
		if _, err := NewCredits(raw); !errors.Is(err, ErrInvalidCredits) {
			test.Fatalf("expected ErrInvalidCredits for %d, got %v", raw, err)
		}
	}
	credits, err := NewCredits(8)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	if credits.Int64() != 8 {
		test.Fatalf("expected 8, got %d", credits.Int64())
	}
}

func TestNewUserIDNormalizes(test *testing.T) {
	test.Parallel()
	userID, err := NewUserID("  user-1  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "user-1" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
	if _, err := NewUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestReferenceIDZeroValue(test *testing.T) {
	test.Parallel()
	if !NoReference().IsZero() {
		test.Fatal("expected NoReference to be zero")
	}
	referenceID, err := NewReferenceID("job-9")
	if err != nil {
		test.Fatalf("reference id: %v", err)
	}
	if referenceID.IsZero() {
		test.Fatal("expected populated reference id")
	}
	if _, err := NewReferenceID(""); !errors.Is(err, ErrInvalidReferenceID) {
		test.Fatalf("expected ErrInvalidReferenceID, got %v", err)
	}
}

func TestParsePlan(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"free", "spark", "glow", "pro"} {
		if _, err := ParsePlan(raw); err != nil {
			test.Fatalf("parse plan %q: %v", raw, err)
		}
	}
	if _, err := ParsePlan("platinum"); !errors.Is(err, ErrInvalidPlan) {
		test.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestPlanAllowances(test *testing.T) {
	test.Parallel()
	cases := []struct {
		plan      Plan
		allowance Credits
		finite    bool
	}{
		{PlanFree, 25, true},
		{PlanSpark, 150, true},
		{PlanGlow, 500, true},
		{PlanPro, 0, false},
	}
	for _, testCase := range cases {
		allowance, finite := testCase.plan.MonthlyAllowance()
		if finite != testCase.finite || allowance != testCase.allowance {
			test.Fatalf("plan %s: got allowance %d finite %v", testCase.plan, allowance, finite)
		}
	}
	if PlanPro.Unlimited() != true || PlanGlow.Unlimited() {
		test.Fatal("unexpected Unlimited classification")
	}
}

func TestParseKindAndSpendClassification(test *testing.T) {
	test.Parallel()
	spendKinds := []Kind{KindGeneration, KindEditing, KindVideo}
	for _, kind := range spendKinds {
		if !kind.IsSpend() {
			test.Fatalf("expected %s to be a spend kind", kind)
		}
	}
	creditKinds := []Kind{KindRefund, KindMonthlyGrant, KindTopup, KindRollover}
	for _, kind := range creditKinds {
		if kind.IsSpend() {
			test.Fatalf("expected %s not to be a spend kind", kind)
		}
		if _, err := ParseKind(kind.String()); err != nil {
			test.Fatalf("parse kind %s: %v", kind, err)
		}
	}
	if _, err := ParseKind("chargeback"); !errors.Is(err, ErrInvalidKind) {
		test.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}
