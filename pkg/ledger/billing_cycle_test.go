package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBillingCycleFreePlanHardReset(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "free-reset")
	store.seedAccount(accountFixture(userID, PlanFree, 3))

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("billing cycle: %v", err)
	}
	account := store.mustAccount(test, userID)
	if account.Balance != 25 {
		test.Fatalf("expected balance 25, got %d", account.Balance)
	}
	if account.RolloverBalance != 0 {
		test.Fatalf("expected rollover 0, got %d", account.RolloverBalance)
	}
	transactions := store.transactionsFor(userID)
	if len(transactions) != 1 {
		test.Fatalf("expected 1 transaction, got %d", len(transactions))
	}
	grant := transactions[0]
	if grant.Kind != KindMonthlyGrant || grant.Amount != 22 || grant.BalanceAfter != 25 {
		test.Fatalf("unexpected grant transaction: %+v", grant)
	}
}

func TestBillingCycleFreePlanNetChangeMayBeNegative(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "free-overfull")
	store.seedAccount(accountFixture(userID, PlanFree, 40))

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("billing cycle: %v", err)
	}
	transactions := store.transactionsFor(userID)
	if len(transactions) != 1 || transactions[0].Amount != -15 {
		test.Fatalf("expected net change -15, got %+v", transactions)
	}
}

func TestBillingCyclePaidPlanRollsOver(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "glow-rollover")
	store.seedAccount(accountFixture(userID, PlanGlow, 120))

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("billing cycle: %v", err)
	}
	account := store.mustAccount(test, userID)
	if account.Balance != 620 {
		test.Fatalf("expected balance 620, got %d", account.Balance)
	}
	if account.RolloverBalance != 120 {
		test.Fatalf("expected rollover 120, got %d", account.RolloverBalance)
	}
	transactions := store.transactionsFor(userID)
	if len(transactions) != 2 {
		test.Fatalf("expected rollover + grant transactions, got %d", len(transactions))
	}
	if transactions[0].Kind != KindRollover || transactions[0].Amount != 0 {
		test.Fatalf("unexpected rollover transaction: %+v", transactions[0])
	}
	if transactions[1].Kind != KindMonthlyGrant || transactions[1].Amount != 500 || transactions[1].BalanceAfter != 620 {
		test.Fatalf("unexpected grant transaction: %+v", transactions[1])
	}
}

func TestBillingCyclePaidPlanSkipsRolloverRecordAtZero(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "spark-empty")
	store.seedAccount(accountFixture(userID, PlanSpark, 0))

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("billing cycle: %v", err)
	}
	transactions := store.transactionsFor(userID)
	if len(transactions) != 1 {
		test.Fatalf("expected only the grant transaction, got %d", len(transactions))
	}
	if transactions[0].Kind != KindMonthlyGrant || transactions[0].Amount != 150 {
		test.Fatalf("unexpected grant transaction: %+v", transactions[0])
	}
}

func TestBillingCycleUnlimitedPlanOnlyRefreshesCycleStart(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "pro-cycle")
	account := accountFixture(userID, PlanPro, 999)
	store.seedAccount(account)

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("billing cycle: %v", err)
	}
	updated := store.mustAccount(test, userID)
	if updated.Balance != 999 {
		test.Fatalf("expected balance untouched, got %d", updated.Balance)
	}
	if updated.CycleStartUnixUTC != 100 {
		test.Fatalf("expected cycle start refreshed to 100, got %d", updated.CycleStartUnixUTC)
	}
	if count := len(store.transactionsFor(userID)); count != 0 {
		test.Fatalf("expected no transactions, got %d", count)
	}
}

func TestBillingCycleRejectsSecondRunInSamePeriod(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	now := time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC).Unix()
	service, err := NewService(store, func() int64 { return now })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	userID := mustUserID(test, "renewal-redelivery")
	store.seedAccount(accountFixture(userID, PlanSpark, 10))

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("first cycle: %v", err)
	}
	err = service.RunBillingCycle(context.Background(), userID)
	if !errors.Is(err, ErrCycleAlreadyRun) {
		test.Fatalf("expected ErrCycleAlreadyRun, got %v", err)
	}
	if balance := store.mustAccount(test, userID).Balance; balance != 160 {
		test.Fatalf("expected single grant (balance 160), got %d", balance)
	}
}

func TestBillingCycleRunsAgainNextPeriod(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	now := time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC).Unix()
	service, err := NewService(store, func() int64 { return now })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	userID := mustUserID(test, "monthly-renewal")
	account := accountFixture(userID, PlanSpark, 10)
	account.CycleStartUnixUTC = time.Date(2025, time.February, 28, 9, 0, 0, 0, time.UTC).Unix()
	store.seedAccount(account)

	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("cycle in new period: %v", err)
	}
	if balance := store.mustAccount(test, userID).Balance; balance != 160 {
		test.Fatalf("expected balance 160, got %d", balance)
	}
}

func TestChangePlanClearsCycleGuard(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "upgrade-user")

	if _, err := service.OpenAccount(context.Background(), userID); err != nil {
		test.Fatalf("open account: %v", err)
	}
	// Signup already stamped the cycle start for this period.
	if err := service.ChangePlan(context.Background(), userID, PlanGlow); err != nil {
		test.Fatalf("change plan: %v", err)
	}
	if err := service.RunBillingCycle(context.Background(), userID); err != nil {
		test.Fatalf("cycle after upgrade: %v", err)
	}
	account := store.mustAccount(test, userID)
	if account.Plan != PlanGlow {
		test.Fatalf("expected glow plan, got %s", account.Plan)
	}
	if account.Balance != 525 {
		test.Fatalf("expected signup credits rolled into upgrade (525), got %d", account.Balance)
	}
	if account.RolloverBalance != 25 {
		test.Fatalf("expected rollover 25, got %d", account.RolloverBalance)
	}
}

func TestChangePlanSamePlanIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "steady-user")
	account := accountFixture(userID, PlanSpark, 10)
	account.CycleStartUnixUTC = 100
	store.seedAccount(account)

	if err := service.ChangePlan(context.Background(), userID, PlanSpark); err != nil {
		test.Fatalf("change plan: %v", err)
	}
	if updated := store.mustAccount(test, userID); updated.CycleStartUnixUTC != 100 {
		test.Fatalf("expected cycle marker untouched, got %d", updated.CycleStartUnixUTC)
	}
}
