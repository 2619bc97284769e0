package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store   Store
	nowFn   func() int64
	loggers []OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Deduct debits a spend from the account before a paid operation
// starts. Finite plans fail with ErrInsufficientCredits and no
// mutation when the balance does not cover the amount. The unlimited
// plan never refuses; its balance still moves (and may go negative)
// so replaying the transaction log reconstructs it exactly.
func (service *Service) Deduct(ctx context.Context, userID UserID, amount Credits, kind Kind, description string, referenceID ReferenceID) (Credits, error) {
	var balanceAfter Credits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
		}
		if !kind.IsSpend() {
			return fmt.Errorf("%w: %q is not a spend kind", ErrInvalidKind, kind)
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !account.Plan.Unlimited() && account.Balance < amount {
			return ErrInsufficientCredits
		}
		account.Balance -= amount
		balanceAfter = account.Balance
		if err := transactionStore.UpdateAccount(ctx, account); err != nil {
			return err
		}
		return transactionStore.AppendTransaction(ctx, TransactionInput{
			UserID:         userID,
			Amount:         -amount,
			BalanceAfter:   balanceAfter,
			Kind:           kind,
			ReferenceID:    referenceID,
			Description:    description,
			CreatedUnixUTC: service.nowFn(),
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationDeduct,
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		ReferenceID: referenceID,
		Error:       operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return balanceAfter, nil
}

// Refund credits back a failed paid operation. Refunds only add, so
// there is no balance check. A reference id that already carries a
// refund transaction is rejected with ErrDuplicateReference, which
// keeps retried failure handlers from injecting credit twice.
func (service *Service) Refund(ctx context.Context, userID UserID, amount Credits, description string, referenceID ReferenceID) (Credits, error) {
	balanceAfter, operationError := service.credit(ctx, userID, amount, KindRefund, description, referenceID)
	service.logOperation(ctx, OperationLog{
		Operation:   operationRefund,
		UserID:      userID,
		Amount:      amount,
		Kind:        KindRefund,
		ReferenceID: referenceID,
		Error:       operationError,
	})
	return balanceAfter, operationError
}

// GrantTopup adds purchased credits after a confirmed payment. The
// payment session id is the reference id; redelivered confirmations
// are rejected with ErrDuplicateReference so credits land once.
func (service *Service) GrantTopup(ctx context.Context, userID UserID, amount Credits, referenceID ReferenceID) (Credits, error) {
	var balanceAfter Credits
	var operationError error
	if referenceID.IsZero() {
		operationError = fmt.Errorf("%w: topup requires a payment reference", ErrInvalidReferenceID)
	} else {
		description := fmt.Sprintf("Credit top-up of %d credits purchased", amount.Int64())
		balanceAfter, operationError = service.credit(ctx, userID, amount, KindTopup, description, referenceID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationGrantTopup,
		UserID:      userID,
		Amount:      amount,
		Kind:        KindTopup,
		ReferenceID: referenceID,
		Error:       operationError,
	})
	return balanceAfter, operationError
}

// RunBillingCycle applies the plan's grant policy on subscription
// start or renewal. A second run inside the same UTC calendar month is
// rejected with ErrCycleAlreadyRun so redelivered webhooks cannot
// double-grant; ChangePlan clears the marker when the plan moves.
func (service *Service) RunBillingCycle(ctx context.Context, userID UserID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if sameBillingPeriod(account.CycleStartUnixUTC, nowUnixUTC) {
			return ErrCycleAlreadyRun
		}
		policy, err := cyclePolicyFor(account.Plan)
		if err != nil {
			return err
		}
		outcome := policy.Run(account, nowUnixUTC)
		if err := transactionStore.UpdateAccount(ctx, outcome.account); err != nil {
			return err
		}
		for _, transaction := range outcome.transactions {
			if err := transactionStore.AppendTransaction(ctx, transaction); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRunBillingCycle,
		UserID:    userID,
		Error:     operationError,
	})
	return operationError
}

// GetBalance returns the display breakdown. Topup is derived and
// clamped at zero: manual corrections can leave monthly plus rollover
// above the stored total.
func (service *Service) GetBalance(ctx context.Context, userID UserID) (Breakdown, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return Breakdown{}, err
	}
	topup := account.Balance - account.MonthlyAllowance - account.RolloverBalance
	if topup < 0 {
		topup = 0
	}
	return Breakdown{
		Total:    account.Balance,
		Monthly:  account.MonthlyAllowance,
		Rollover: account.RolloverBalance,
		Topup:    topup,
	}, nil
}

// credit is the shared add-only path behind Refund and GrantTopup.
func (service *Service) credit(ctx context.Context, userID UserID, amount Credits, kind Kind, description string, referenceID ReferenceID) (Credits, error) {
	var balanceAfter Credits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !referenceID.IsZero() {
			exists, err := transactionStore.HasReference(ctx, userID, kind, referenceID)
			if err != nil {
				return err
			}
			if exists {
				balanceAfter = account.Balance
				return ErrDuplicateReference
			}
		}
		account.Balance += amount
		balanceAfter = account.Balance
		if err := transactionStore.UpdateAccount(ctx, account); err != nil {
			return err
		}
		return transactionStore.AppendTransaction(ctx, TransactionInput{
			UserID:         userID,
			Amount:         amount,
			BalanceAfter:   balanceAfter,
			Kind:           kind,
			ReferenceID:    referenceID,
			Description:    description,
			CreatedUnixUTC: service.nowFn(),
		})
	})
	if operationError != nil {
		if errors.Is(operationError, ErrDuplicateReference) {
			return balanceAfter, operationError
		}
		return 0, operationError
	}
	return balanceAfter, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case errors.Is(entry.Error, ErrDuplicateReference), errors.Is(entry.Error, ErrCycleAlreadyRun):
			entry.Status = operationStatusDuplicate
		default:
			entry.Status = operationStatusError
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}

// sameBillingPeriod reports whether two instants fall in the same UTC
// calendar month. A zero cycle start never matches.
func sameBillingPeriod(cycleStartUnixUTC int64, nowUnixUTC int64) bool {
	if cycleStartUnixUTC == 0 {
		return false
	}
	cycleStart := time.Unix(cycleStartUnixUTC, 0).UTC()
	now := time.Unix(nowUnixUTC, 0).UTC()
	return cycleStart.Year() == now.Year() && cycleStart.Month() == now.Month()
}
