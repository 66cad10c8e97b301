package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Region struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Channel struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type DealerType struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type SKU struct {
	ID       string `json:"id" yaml:"id"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	Brand    string `json:"brand" yaml:"brand"`
	Category string `json:"category" yaml:"category"`
	Size     string `json:"size" yaml:"size"`
	PackType string `json:"pack_type" yaml:"pack_type"`
}

type Customer struct {
	ID            string `json:"id" yaml:"id"`
	Code          string `json:"code" yaml:"code"`
	Name          string `json:"name" yaml:"name"`
	RegionID      string `json:"region_id" yaml:"region_id"`
	ChannelID     string `json:"channel_id" yaml:"channel_id"`
	DealerTypeID  string `json:"dealer_type_id" yaml:"dealer_type_id"`
	AssignedRepID string `json:"assigned_rep_id,omitempty" yaml:"assigned_rep_id"`
}

type Role string

const (
	RoleRSM      Role = "RSM"
	RoleTDM      Role = "TDM"
	RoleTDE      Role = "TDE"
	RoleSalesRep Role = "SalesRep"
)

// Rank orders roles from field level (1) up to regional management (4).
// Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleSalesRep:
		return 1
	case RoleTDE:
		return 2
	case RoleTDM:
		return 3
	case RoleRSM:
		return 4
	default:
		return 0
	}
}

type User struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Role      Role   `json:"role" yaml:"role"`
	RegionID  string `json:"region_id,omitempty" yaml:"region_id"`
	ManagerID string `json:"manager_id,omitempty" yaml:"manager_id"`
}

type Actor struct {
	UserID string
	Role   Role
}

type PeriodKind string

const (
	PeriodMonth   PeriodKind = "month"
	PeriodQuarter PeriodKind = "quarter"
	PeriodFY      PeriodKind = "fy"
)

type Period struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Kind      PeriodKind `json:"kind"`
	StartsOn  time.Time  `json:"starts_on"`
	EndsOn    time.Time  `json:"ends_on"`
	CreatedAt time.Time  `json:"created_at"`
}

type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchSubmitted BatchStatus = "submitted"
	BatchApproved  BatchStatus = "approved"
	BatchRejected  BatchStatus = "rejected"
)

// Editable reports whether target rows of a batch in this status may change.
func (s BatchStatus) Editable() bool {
	return s == BatchDraft || s == BatchRejected
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchDraft, BatchSubmitted, BatchApproved, BatchRejected:
		return true
	}
	return false
}

type TargetBatch struct {
	ID           string      `json:"id"`
	PeriodID     string      `json:"period_id"`
	PeriodLabel  string      `json:"period_label"`
	RegionID     string      `json:"region_id,omitempty"`
	OwnerUserID  string      `json:"owner_user_id"`
	Status       BatchStatus `json:"status"`
	Revision     int64       `json:"revision"`
	CreatedBy    string      `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty"`
	DecidedAt    *time.Time  `json:"decided_at,omitempty"`
	DecidedBy    string      `json:"decided_by,omitempty"`
	RejectReason string      `json:"reject_reason,omitempty"`
}

type CreateBatchRequest struct {
	Period      string `json:"period" validate:"required,max=16"`
	RegionID    string `json:"region_id" validate:"omitempty,max=64"`
	OwnerUserID string `json:"owner_user_id" validate:"omitempty,max=64"`
}

type BatchFilter struct {
	PeriodID string
	RegionID string
	Status   BatchStatus
	Limit    int
}

// Transition is a compare-and-set on batch status. RequireRows and
// RequireNoIssues are checked atomically with the status change.
type Transition struct {
	From            []BatchStatus
	To              BatchStatus
	At              time.Time
	Actor           string
	Reason          string
	RequireRows     bool
	RequireNoIssues bool
}

const UOMCases = "cases"

type TargetRow struct {
	ID          string              `json:"id"`
	BatchID     string              `json:"batch_id"`
	PeriodID    string              `json:"period_id"`
	CustomerID  string              `json:"customer_id"`
	SKUID       string              `json:"sku_id"`
	UOM         string              `json:"uom"`
	TargetQty   decimal.Decimal     `json:"target_qty"`
	TargetValue decimal.NullDecimal `json:"target_value"`
	UpdatedAt   time.Time           `json:"updated_at"`
	UpdatedBy   string              `json:"updated_by,omitempty"`
}

// RowWrite is a single cell edit. A zero quantity removes the fact.
type RowWrite struct {
	BatchID    string
	PeriodID   string
	CustomerID string
	SKUID      string
	Qty        decimal.Decimal
	Value      decimal.Decimal
	At         time.Time
	Actor      string
}

type RowWriteResult struct {
	Row      *TargetRow
	Changed  bool
	Revision int64
}

type CellIssue struct {
	BatchID    string    `json:"batch_id"`
	CustomerID string    `json:"customer_id"`
	SKUID      string    `json:"sku_id"`
	RawInput   string    `json:"raw_input"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

type CellInput struct {
	BatchID    string
	CustomerID string
	SKUID      string
	Qty        string
	At         time.Time
}

type BatchEvent struct {
	ID         string      `json:"id"`
	BatchID    string      `json:"batch_id"`
	Action     string      `json:"action"`
	FromStatus BatchStatus `json:"from_status,omitempty"`
	ToStatus   BatchStatus `json:"to_status,omitempty"`
	ActorID    string      `json:"actor_id"`
	ActorRole  Role        `json:"actor_role"`
	Reason     string      `json:"reason,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

type SeedResponse struct {
	BatchID  string `json:"batch_id"`
	Created  int    `json:"created"`
	Revision int64  `json:"revision"`
}
