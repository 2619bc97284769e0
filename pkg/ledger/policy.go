package ledger

import "fmt"

// cycleOutcome is the state transition produced by one billing cycle
// run: the updated account fields plus the transactions to append.
type cycleOutcome struct {
	account      Account
	transactions []TransactionInput
}

// cyclePolicy computes the billing-cycle transition for one plan
// variant. Adding a plan tier means adding a policy here and a case in
// cyclePolicyFor; nothing else branches on the plan during a cycle.
type cyclePolicy interface {
	Run(account Account, nowUnixUTC int64) cycleOutcome
}

// cyclePolicyFor selects the policy for the account's plan.
func cyclePolicyFor(plan Plan) (cyclePolicy, error) {
	switch plan {
	case PlanFree:
		return freeResetPolicy{}, nil
	case PlanSpark, PlanGlow:
		allowance, _ := plan.MonthlyAllowance()
		return rolloverGrantPolicy{allowance: allowance}, nil
	case PlanPro:
		return unlimitedRefreshPolicy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
}

// freeResetPolicy hard-resets the balance to the free allowance. No
// rollover. The grant transaction records the net change, which is
// negative if the account somehow held more than the allowance.
type freeResetPolicy struct{}

func (freeResetPolicy) Run(account Account, nowUnixUTC int64) cycleOutcome {
	previousBalance := account.Balance
	account.Balance = FreeMonthlyCredits
	account.MonthlyAllowance = FreeMonthlyCredits
	account.RolloverBalance = 0
	account.CycleStartUnixUTC = nowUnixUTC
	return cycleOutcome{
		account: account,
		transactions: []TransactionInput{{
			UserID:         account.UserID,
			Amount:         FreeMonthlyCredits - previousBalance,
			BalanceAfter:   FreeMonthlyCredits,
			Kind:           KindMonthlyGrant,
			Description:    "Monthly free plan credit reset",
			CreatedUnixUTC: nowUnixUTC,
		}},
	}
}

// rolloverGrantPolicy snapshots the pre-grant balance as rollover and
// adds the allowance on top. Credits accumulate without a ceiling.
type rolloverGrantPolicy struct {
	allowance Credits
}

func (policy rolloverGrantPolicy) Run(account Account, nowUnixUTC int64) cycleOutcome {
	rolledOver := account.Balance
	newBalance := account.Balance + policy.allowance
	account.Balance = newBalance
	account.MonthlyAllowance = policy.allowance
	account.RolloverBalance = rolledOver
	account.CycleStartUnixUTC = nowUnixUTC

	transactions := make([]TransactionInput, 0, 2)
	if rolledOver > 0 {
		transactions = append(transactions, TransactionInput{
			UserID:         account.UserID,
			Amount:         0,
			BalanceAfter:   rolledOver,
			Kind:           KindRollover,
			Description:    fmt.Sprintf("%d credits rolled over from previous cycle", rolledOver.Int64()),
			CreatedUnixUTC: nowUnixUTC,
		})
	}
	transactions = append(transactions, TransactionInput{
		UserID:         account.UserID,
		Amount:         policy.allowance,
		BalanceAfter:   newBalance,
		Kind:           KindMonthlyGrant,
		Description:    fmt.Sprintf("Monthly %s plan credit grant of %d credits", account.Plan, policy.allowance.Int64()),
		CreatedUnixUTC: nowUnixUTC,
	})
	return cycleOutcome{account: account, transactions: transactions}
}

// unlimitedRefreshPolicy only refreshes the cycle marker; unlimited
// accounts receive no grant and keep their bookkeeping balance.
type unlimitedRefreshPolicy struct{}

func (unlimitedRefreshPolicy) Run(account Account, nowUnixUTC int64) cycleOutcome {
	account.CycleStartUnixUTC = nowUnixUTC
	return cycleOutcome{account: account}
}
