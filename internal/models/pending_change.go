package models

import (
	"time"
)

const EntityProduct = "product"

const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// PendingChange lives in the key/value store, not in postgres.
type PendingChange struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	EntityType      string     `json:"entity_type"`
	EntityID        string     `json:"entity_id"`
	ChangeType      string     `json:"change_type"`
	ChangeData      string     `json:"change_data"`
	EditSummary     string     `json:"edit_summary,omitempty"`
	MinorEdit       bool       `json:"minor_edit"`
	SubmitterWallet string     `json:"submitter_wallet"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	RevisionNumber  int        `json:"revision_number,omitempty"`
}

func (p *PendingChange) IsTerminal() bool {
	return p.Status == StatusApproved || p.Status == StatusRejected
}

func ValidChangeType(t string) bool {
	return t == ChangeCreate || t == ChangeUpdate || t == ChangeDelete
}
