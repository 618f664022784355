package models

import (
	"time"

	"gorm.io/datatypes"
)

// Revision rows are written once and never updated.
type Revision struct {
	ID              uint                                `gorm:"primaryKey" json:"id"`
	ProductID       string                              `gorm:"size:36;not null;uniqueIndex:idx_product_revision" json:"product_id"`
	RevisionNumber  int                                 `gorm:"not null;uniqueIndex:idx_product_revision" json:"revision_number"`
	ChangeID        *string                             `gorm:"size:36;uniqueIndex" json:"change_id,omitempty"`
	ChangeType      string                              `gorm:"size:16;not null" json:"change_type"`
	Snapshot        datatypes.JSONType[ProductSnapshot] `json:"snapshot"`
	EditSummary     string                              `gorm:"size:500" json:"edit_summary"`
	EditorWallet    string                              `gorm:"size:42;not null" json:"editor_wallet"`
	SubmitterWallet string                              `gorm:"size:42" json:"submitter_wallet"`
	CommittedAt     time.Time                           `gorm:"not null" json:"committed_at"`
}

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ChangeDecision records the first decision taken on a pending change. The
// primary key makes approve and reject mutually exclusive: an approval
// writes its row in the same transaction as the revision, a rejection
// writes its row before the change is marked rejected.
type ChangeDecision struct {
	ChangeID  string    `gorm:"primaryKey;size:36" json:"change_id"`
	Action    string    `gorm:"size:16;not null" json:"action"`
	DecidedBy string    `gorm:"size:42;not null" json:"decided_by"`
	DecidedAt time.Time `gorm:"not null" json:"decided_at"`
}
