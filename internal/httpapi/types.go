package httpapi

import (
	"encoding/json"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
)

type openAccountRequest struct {
	UserID string `json:"user_id"`
}

type deductRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

type cycleRequest struct {
	UserID string `json:"user_id"`
}

type refundRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// billingEvent is the processor webhook envelope. Credits and
// SessionID accompany top-ups; Plan accompanies subscription events.
type billingEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Credits   int64  `json:"credits"`
	SessionID string `json:"session_id"`
	Plan      string `json:"plan"`
}

type balancePayload struct {
	Total    int64 `json:"total"`
	Monthly  int64 `json:"monthly"`
	Rollover int64 `json:"rollover"`
	Topup    int64 `json:"topup"`
}

func balancePayloadFrom(breakdown ledger.Breakdown) balancePayload {
	return balancePayload{
		Total:    breakdown.Total.Int64(),
		Monthly:  breakdown.Monthly.Int64(),
		Rollover: breakdown.Rollover.Int64(),
		Topup:    breakdown.Topup.Int64(),
	}
}

type accountPayload struct {
	UserID            string `json:"user_id"`
	Plan              string `json:"plan"`
	Balance           int64  `json:"balance"`
	MonthlyAllowance  int64  `json:"monthly_allowance"`
	RolloverBalance   int64  `json:"rollover_balance"`
	CycleStartUnixUTC int64  `json:"cycle_start_unix_utc"`
}

func accountPayloadFrom(account ledger.Account) accountPayload {
	return accountPayload{
		UserID:            account.UserID.String(),
		Plan:              account.Plan.String(),
		Balance:           account.Balance.Int64(),
		MonthlyAllowance:  account.MonthlyAllowance.Int64(),
		RolloverBalance:   account.RolloverBalance.Int64(),
		CycleStartUnixUTC: account.CycleStartUnixUTC,
	}
}

type transactionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Kind           string          `json:"kind"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	Description    string          `json:"description"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func transactionPayloadFrom(transaction ledger.Transaction) transactionPayload {
	var metadata json.RawMessage
	if transaction.MetadataJSON != "" {
		metadata = json.RawMessage(transaction.MetadataJSON)
	}
	return transactionPayload{
		TransactionID:  transaction.ID,
		Amount:         transaction.Amount.Int64(),
		BalanceAfter:   transaction.BalanceAfter.Int64(),
		Kind:           transaction.Kind.String(),
		ReferenceID:    transaction.ReferenceID.String(),
		Description:    transaction.Description,
		Metadata:       metadata,
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
}
