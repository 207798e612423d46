package models

import "time"

// Plan names a billing plan.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// Unlimited marks a limit that does not apply.
const Unlimited = -1

// PlanLimits are the quotas attached to a plan.
type PlanLimits struct {
	StorageLimit        int64
	MaxMonthlyTransfers int
	RetentionDays       int
}

const gib = int64(1) << 30

var plans = map[Plan]PlanLimits{
	PlanFree:     {StorageLimit: 5 * gib, MaxMonthlyTransfers: 10, RetentionDays: 7},
	PlanStarter:  {StorageLimit: 50 * gib, MaxMonthlyTransfers: 100, RetentionDays: 14},
	PlanPro:      {StorageLimit: 250 * gib, MaxMonthlyTransfers: Unlimited, RetentionDays: 30},
	PlanBusiness: {StorageLimit: 1024 * gib, MaxMonthlyTransfers: Unlimited, RetentionDays: 90},
}

// LimitsFor returns the limits of plan, falling back to the free plan.
func LimitsFor(plan Plan) PlanLimits {
	if l, ok := plans[plan]; ok {
		return l
	}
	return plans[PlanFree]
}

// User is the account record and its usage counters. Counters are only
// ever changed with single-statement atomic updates.
type User struct {
	ID    string
	Email string
	Plan  Plan
	Admin bool

	StorageUsed         int64
	StorageLimit        int64
	MonthlyTransfers    int
	MaxMonthlyTransfers int
	FilesCount          int
	RetentionDays       int

	// BillingCustomerID is the external billing id, set once.
	BillingCustomerID string

	UsageResetAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UsageDelta is a signed change applied to a user's counters.
type UsageDelta struct {
	Storage   int64
	Files     int
	Transfers int
}

// IsZero reports whether applying d would change nothing.
func (d UsageDelta) IsZero() bool {
	return d.Storage == 0 && d.Files == 0 && d.Transfers == 0
}

// Negate flips the sign of every counter.
func (d UsageDelta) Negate() UsageDelta {
	return UsageDelta{Storage: -d.Storage, Files: -d.Files, Transfers: -d.Transfers}
}

// Usage is the quota snapshot shown to account holders.
type Usage struct {
	Plan                Plan  `json:"plan"`
	StorageUsed         int64 `json:"storageUsed"`
	StorageLimit        int64 `json:"storageLimit"`
	MonthlyTransfers    int   `json:"monthlyTransfers"`
	MaxMonthlyTransfers int   `json:"maxMonthlyTransfers"`
	FilesCount          int   `json:"filesCount"`
	RetentionDays       int   `json:"retentionDays"`
}
