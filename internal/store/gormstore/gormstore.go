package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionReference = "uniq_credit_txn_user_kind_reference"
	constraintAccountPrimary       = "credit_accounts_pkey"
	defaultMetadataJSON            = "{}"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectTransaction        = "transaction"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeLookup                = "lookup"
	errorCodeUpdate                = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for SQLite deployments and tests;
// PostgreSQL schemas are managed externally.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&Account{}, &CreditTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	model := Account{
		UserID:           account.UserID.String(),
		Plan:             account.Plan.String(),
		Balance:          account.Balance.Int64(),
		MonthlyAllowance: account.MonthlyAllowance.Int64(),
		RolloverBalance:  account.RolloverBalance.Int64(),
		CycleStartAt:     unixToTime(account.CycleStartUnixUTC),
		CreatedAt:        time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAccountPrimary) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	updates := map[string]interface{}{
		"plan":              account.Plan.String(),
		"balance":           account.Balance.Int64(),
		"monthly_allowance": account.MonthlyAllowance.Int64(),
		"rollover_balance":  account.RolloverBalance.Int64(),
		"cycle_start_at":    unixToTime(account.CycleStartUnixUTC),
		"updated_at":        time.Now().UTC(),
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", account.UserID.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) error {
	var referenceID *string
	if !input.ReferenceID.IsZero() {
		value := input.ReferenceID.String()
		referenceID = &value
	}
	model := CreditTransaction{
		UserID:       input.UserID.String(),
		Amount:       input.Amount.Int64(),
		BalanceAfter: input.BalanceAfter.Int64(),
		Kind:         input.Kind.String(),
		ReferenceID:  referenceID,
		Description:  input.Description,
		Metadata:     datatypesJSON(input.MetadataJSON),
		CreatedAt:    time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintTransactionReference) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) HasReference(ctx context.Context, userID ledger.UserID, kind ledger.Kind, referenceID ledger.ReferenceID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("user_id = ? AND kind = ? AND reference_id = ?", userID.String(), kind.String(), referenceID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) (ledger.Account, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	plan, err := ledger.ParsePlan(model.Plan)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		UserID:            userID,
		Plan:              plan,
		Balance:           ledger.Credits(model.Balance),
		MonthlyAllowance:  ledger.Credits(model.MonthlyAllowance),
		RolloverBalance:   ledger.Credits(model.RolloverBalance),
		CycleStartUnixUTC: timeOrZero(model.CycleStartAt),
		CreatedUnixUTC:    model.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(row CreditTransaction) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceID := ledger.NoReference()
	if row.ReferenceID != nil {
		referenceID, err = ledger.NewReferenceID(*row.ReferenceID)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	return ledger.Transaction{
		ID:             row.TransactionID,
		UserID:         userID,
		Amount:         ledger.Credits(row.Amount),
		BalanceAfter:   ledger.Credits(row.BalanceAfter),
		Kind:           kind,
		ReferenceID:    referenceID,
		Description:    row.Description,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func unixToTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
