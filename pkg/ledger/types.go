package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Credits is the integer in-app currency consumed by paid operations.
// Balances are signed: unlimited-plan accounts may run negative.
type Credits int64

// Int64 returns the raw credit amount.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewCredits validates an operation amount and ensures it is strictly positive.
func NewCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// ReferenceID correlates a transaction with the external event that
// caused it: the paid operation's job id for spends and refunds, the
// payment session id for top-ups. The zero value means "no reference".
type ReferenceID struct {
	value string
}

// NewReferenceID validates and normalizes a reference id.
func NewReferenceID(raw string) (ReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	return ReferenceID{value: trimmed}, nil
}

// NoReference is the absent reference id.
func NoReference() ReferenceID {
	return ReferenceID{}
}

// IsZero reports whether no reference was supplied.
func (id ReferenceID) IsZero() bool {
	return id.value == ""
}

// String returns the normalized identifier.
func (id ReferenceID) String() string {
	return id.value
}

// Plan is a subscription tier determining the monthly allowance and
// whether the balance is finite or unlimited.
type Plan string

const (
	PlanFree  Plan = "free"
	PlanSpark Plan = "spark"
	PlanGlow  Plan = "glow"
	PlanPro   Plan = "pro"
)

// ParsePlan validates a stored plan value.
func ParsePlan(raw string) (Plan, error) {
	plan := Plan(raw)
	switch plan {
	case PlanFree, PlanSpark, PlanGlow, PlanPro:
		return plan, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlan, raw)
}

// String returns the stored plan value.
func (plan Plan) String() string {
	return string(plan)
}

// Unlimited reports whether spend checks short-circuit for this plan.
func (plan Plan) Unlimited() bool {
	return plan == PlanPro
}

// MonthlyAllowance returns the per-cycle grant for finite plans. The
// second result is false for the unlimited plan.
func (plan Plan) MonthlyAllowance() (Credits, bool) {
	switch plan {
	case PlanFree:
		return FreeMonthlyCredits, true
	case PlanSpark:
		return SparkMonthlyCredits, true
	case PlanGlow:
		return GlowMonthlyCredits, true
	}
	return 0, false
}

// Kind enumerates transaction kinds. The three spend kinds mirror the
// paid product features; the remaining kinds are credit-side.
type Kind string

const (
	KindGeneration   Kind = "generation"
	KindEditing      Kind = "editing"
	KindVideo        Kind = "video"
	KindRefund       Kind = "refund"
	KindMonthlyGrant Kind = "monthly_grant"
	KindTopup        Kind = "topup"
	KindRollover     Kind = "rollover"
)

// ParseKind validates a stored transaction kind.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	switch kind {
	case KindGeneration, KindEditing, KindVideo, KindRefund, KindMonthlyGrant, KindTopup, KindRollover:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// String returns the stored kind value.
func (kind Kind) String() string {
	return string(kind)
}

// IsSpend reports whether the kind debits the balance via Deduct.
func (kind Kind) IsSpend() bool {
	switch kind {
	case KindGeneration, KindEditing, KindVideo:
		return true
	}
	return false
}

// Account is the mutable per-user balance row. It is mutated only by
// the ledger operations; no other component writes to it.
type Account struct {
	UserID            UserID
	Plan              Plan
	Balance           Credits
	MonthlyAllowance  Credits
	RolloverBalance   Credits
	CycleStartUnixUTC int64
	CreatedUnixUTC    int64
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	ID             string
	UserID         UserID
	Amount         Credits
	BalanceAfter   Credits
	Kind           Kind
	ReferenceID    ReferenceID
	Description    string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// TransactionInput carries a transaction to the store before an id is
// assigned.
type TransactionInput struct {
	UserID         UserID
	Amount         Credits
	BalanceAfter   Credits
	Kind           Kind
	ReferenceID    ReferenceID
	Description    string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Breakdown is the balance view for display surfaces. Topup is derived,
// never stored.
type Breakdown struct {
	Total    Credits
	Monthly  Credits
	Rollover Credits
	Topup    Credits
}

// Store is the persistence contract used by Service. Implementations
// must make GetAccountForUpdate lock the account row for the duration
// of the enclosing WithTx so concurrent operations on one account
// serialize; operations on different accounts must not block each
// other.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	AppendTransaction(ctx context.Context, input TransactionInput) error
	HasReference(ctx context.Context, userID UserID, kind Kind, referenceID ReferenceID) (bool, error)
	ListTransactions(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
