package ledger

// Plan allowances in credits per billing cycle.
const (
	FreeMonthlyCredits  Credits = 25
	SparkMonthlyCredits Credits = 150
	GlowMonthlyCredits  Credits = 500
)

// Credit costs for paid operations, charged by orchestrators via Deduct.
const (
	CostImageSingle     Credits = 1
	CostImageBatch2     Credits = 2
	CostImageBatch4     Credits = 4
	CostImageVariations Credits = 2
	CostEditBGRemove    Credits = 2
	CostEditBGRemoveAI  Credits = 3
	CostEditInpaint     Credits = 3
	CostEditUpscale2x   Credits = 2
	CostEditUpscale4x   Credits = 4
	CostEditEnhance     Credits = 1
	CostVideo3s         Credits = 5
	CostVideo5s         Credits = 8
)

const (
	operationOpenAccount     = "open_account"
	operationDeduct          = "deduct"
	operationRefund          = "refund"
	operationGrantTopup      = "grant_topup"
	operationRunBillingCycle = "run_billing_cycle"
	operationChangePlan      = "change_plan"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"

	signupGrantDescription = "Signup free plan credit grant"
)
