package ledger

import (
	"context"
	"errors"
)

// OpenAccount creates the account at signup: free plan, the free
// allowance as the opening balance, and a signup grant transaction so
// the log replays from zero. Calling it for an existing account
// returns that account unchanged.
func (service *Service) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	var opened Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.GetAccount(ctx, userID)
		if err == nil {
			opened = existing
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		nowUnixUTC := service.nowFn()
		account := Account{
			UserID:            userID,
			Plan:              PlanFree,
			Balance:           FreeMonthlyCredits,
			MonthlyAllowance:  FreeMonthlyCredits,
			RolloverBalance:   0,
			CycleStartUnixUTC: nowUnixUTC,
			CreatedUnixUTC:    nowUnixUTC,
		}
		if err := transactionStore.CreateAccount(ctx, account); err != nil {
			// A concurrent signup may have created the row after the
			// read above; idempotency means returning that account.
			if errors.Is(err, ErrAccountExists) {
				opened, err = transactionStore.GetAccount(ctx, userID)
				return err
			}
			return err
		}
		if err := transactionStore.AppendTransaction(ctx, TransactionInput{
			UserID:         userID,
			Amount:         FreeMonthlyCredits,
			BalanceAfter:   FreeMonthlyCredits,
			Kind:           KindMonthlyGrant,
			Description:    signupGrantDescription,
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		opened = account
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		UserID:    userID,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return opened, nil
}

// ChangePlan moves the account to a new tier after a subscription
// event. The cycle marker is cleared so the next RunBillingCycle
// applies immediately even within the month the plan changed.
func (service *Service) ChangePlan(ctx context.Context, userID UserID, plan Plan) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := ParsePlan(plan.String()); err != nil {
			return err
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if account.Plan == plan {
			return nil
		}
		account.Plan = plan
		account.CycleStartUnixUTC = 0
		return transactionStore.UpdateAccount(ctx, account)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationChangePlan,
		UserID:    userID,
		Error:     operationError,
	})
	return operationError
}

// ListTransactions returns the newest transactions before a cutoff
// time for history and audit surfaces.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if _, err := service.store.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, userID, beforeUnixUTC, limit)
}
