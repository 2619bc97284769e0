package pgstore

import (
	"context"
	"errors"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// The reference index is partial over the credit-side kinds
	// (refund, topup); spend rows may reuse a job reference on retry.
	constraintTransactionReference = "uniq_credit_txn_user_kind_reference"
	constraintAccountPrimary       = "credit_accounts_pkey"
	pgUniqueViolationCode          = "23505"
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectTransaction        = "transaction"
	errorCodeBegin                 = "begin"
	errorCodeCommit                = "commit"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeLookup                = "lookup"
	errorCodeUpdate                = "update"

	sqlInsertAccount = `
		insert into credit_accounts(
			user_id, plan, balance, monthly_allowance, rollover_balance, cycle_start_at, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, to_timestamp(nullif($6,0)), to_timestamp($7), now())
	`

	sqlSelectAccount = `
		select user_id, plan, balance, monthly_allowance, rollover_balance,
			coalesce(extract(epoch from cycle_start_at)::bigint,0),
			extract(epoch from created_at)::bigint
		from credit_accounts
		where user_id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + `
		for update
	`

	sqlUpdateAccount = `
		update credit_accounts
		set plan = $2, balance = $3, monthly_allowance = $4, rollover_balance = $5,
			cycle_start_at = to_timestamp(nullif($6,0)), updated_at = now()
		where user_id = $1
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, user_id, amount, balance_after, kind, reference_id, description, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4,
			nullif($5,''),
			$6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
	`

	sqlReferenceExists = `
		select exists(
			select 1 from credit_transactions
			where user_id = $1 and kind = $2 and reference_id = $3
		)
	`

	sqlListTransactionsBefore = `
		select
			transaction_id::text,
			user_id,
			amount,
			balance_after,
			kind,
			coalesce(reference_id,''),
			description,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from credit_transactions
		where user_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	session
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	session
	tx pgx.Tx
}

// session holds the shared query implementations.
type session struct {
	runner querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{session: session{runner: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{session: session{runner: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx on an open transaction reuses that transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (s session) CreateAccount(ctx context.Context, account ledger.Account) error {
	_, err := s.runner.Exec(ctx, sqlInsertAccount,
		account.UserID.String(),
		account.Plan.String(),
		account.Balance.Int64(),
		account.MonthlyAllowance.Int64(),
		account.RolloverBalance.Int64(),
		account.CycleStartUnixUTC,
		account.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintAccountPrimary) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (s session) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return s.scanAccount(s.runner.QueryRow(ctx, sqlSelectAccount, userID.String()))
}

func (s session) GetAccountForUpdate(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return s.scanAccount(s.runner.QueryRow(ctx, sqlSelectAccountForUpdate, userID.String()))
}

func (s session) UpdateAccount(ctx context.Context, account ledger.Account) error {
	tag, err := s.runner.Exec(ctx, sqlUpdateAccount,
		account.UserID.String(),
		account.Plan.String(),
		account.Balance.Int64(),
		account.MonthlyAllowance.Int64(),
		account.RolloverBalance.Int64(),
		account.CycleStartUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (s session) AppendTransaction(ctx context.Context, input ledger.TransactionInput) error {
	_, err := s.runner.Exec(ctx, sqlInsertTransaction,
		input.UserID.String(),
		input.Amount.Int64(),
		input.BalanceAfter.Int64(),
		input.Kind.String(),
		input.ReferenceID.String(),
		input.Description,
		input.MetadataJSON,
		input.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintTransactionReference) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (s session) HasReference(ctx context.Context, userID ledger.UserID, kind ledger.Kind, referenceID ledger.ReferenceID) (bool, error) {
	var exists bool
	err := s.runner.QueryRow(ctx, sqlReferenceExists, userID.String(), kind.String(), referenceID.String()).Scan(&exists)
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return exists, nil
}

func (s session) ListTransactions(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	rows, err := s.runner.Query(ctx, sqlListTransactionsBefore, userID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	transactions := make([]ledger.Transaction, 0, limit)
	for rows.Next() {
		var (
			transactionID  string
			userIDValue    string
			amount         int64
			balanceAfter   int64
			kindValue      string
			referenceValue string
			description    string
			metadataJSON   string
			createdUnixUTC int64
		)
		if err := rows.Scan(&transactionID, &userIDValue, &amount, &balanceAfter, &kindValue, &referenceValue, &description, &metadataJSON, &createdUnixUTC); err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transaction, err := mapTransaction(transactionID, userIDValue, amount, balanceAfter, kindValue, referenceValue, description, metadataJSON, createdUnixUTC)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (s session) scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		userIDValue       string
		planValue         string
		balance           int64
		monthlyAllowance  int64
		rolloverBalance   int64
		cycleStartUnixUTC int64
		createdUnixUTC    int64
	)
	err := row.Scan(&userIDValue, &planValue, &balance, &monthlyAllowance, &rolloverBalance, &cycleStartUnixUTC, &createdUnixUTC)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	plan, err := ledger.ParsePlan(planValue)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		UserID:            userID,
		Plan:              plan,
		Balance:           ledger.Credits(balance),
		MonthlyAllowance:  ledger.Credits(monthlyAllowance),
		RolloverBalance:   ledger.Credits(rolloverBalance),
		CycleStartUnixUTC: cycleStartUnixUTC,
		CreatedUnixUTC:    createdUnixUTC,
	}, nil
}

func mapTransaction(transactionID string, userIDValue string, amount int64, balanceAfter int64, kindValue string, referenceValue string, description string, metadataJSON string, createdUnixUTC int64) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseKind(kindValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceID := ledger.NoReference()
	if referenceValue != "" {
		referenceID, err = ledger.NewReferenceID(referenceValue)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	return ledger.Transaction{
		ID:             transactionID,
		UserID:         userID,
		Amount:         ledger.Credits(amount),
		BalanceAfter:   ledger.Credits(balanceAfter),
		Kind:           kind,
		ReferenceID:    referenceID,
		Description:    description,
		MetadataJSON:   metadataJSON,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	return false
}
