package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProductActive  = "active"
	ProductRemoved = "removed"
)

type WalletRef struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
}

type Product struct {
	ID                    string                      `gorm:"primaryKey;size:36" json:"id"`
	Title                 string                      `gorm:"size:100;not null" json:"title"`
	ShortDesc             string                      `gorm:"size:280" json:"short_desc"`
	LongDesc              string                      `gorm:"type:text" json:"long_desc"`
	LogoURL               string                      `json:"logo_url"`
	MarkdownContent       string                      `gorm:"type:text" json:"markdown_content"`
	IsVerified            bool                        `gorm:"default:false" json:"is_verified"`
	AnalyticsList         datatypes.JSONSlice[string] `json:"analytics_list"`
	SecurityScore         float64                     `gorm:"default:0" json:"security_score"`
	UXScore               float64                     `gorm:"column:ux_score;default:0" json:"ux_score"`
	DecentScore           float64                     `gorm:"default:0" json:"decent_score"`
	VibesScore            float64                     `gorm:"default:0" json:"vibes_score"`
	Categories            []Category                  `gorm:"many2many:product_categories;" json:"categories"`
	Chains                []Chain                     `gorm:"many2many:product_chains;" json:"chains"`
	SubmitterWallet       string                      `gorm:"size:42;not null;index" json:"submitter_id"`
	LastEditorWallet      string                      `gorm:"size:42" json:"last_editor_wallet"`
	CurrentRevisionNumber int                         `gorm:"not null;default:1" json:"current_revision_number"`
	UpvoteCount           int64                       `gorm:"not null;default:0" json:"upvote_count"`
	Status                string                      `gorm:"size:16;not null;default:'active';index" json:"status"`
	CreatedAt             time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt             time.Time                   `json:"updated_at"`

	// Filled in after the query; not stored.
	Approved   bool      `gorm:"-" json:"approved"`
	Submitter  WalletRef `gorm:"-" json:"submitter"`
	LastEditor WalletRef `gorm:"-" json:"last_editor"`
	HasVoted   bool      `gorm:"-" json:"has_voted"`
}

func (p *Product) AfterFind(tx *gorm.DB) error {
	p.Hydrate()
	return nil
}

// Hydrate fills the derived, non-column fields.
func (p *Product) Hydrate() {
	p.Approved = p.Status == ProductActive
	p.Submitter = WalletRef{ID: p.SubmitterWallet, WalletAddress: p.SubmitterWallet}
	p.LastEditor = WalletRef{ID: p.LastEditorWallet, WalletAddress: p.LastEditorWallet}
	if p.AnalyticsList == nil {
		p.AnalyticsList = datatypes.JSONSlice[string]{}
	}
	if p.Categories == nil {
		p.Categories = []Category{}
	}
	if p.Chains == nil {
		p.Chains = []Chain{}
	}
}

// Snapshot captures the published field set stored with every revision.
func (p *Product) Snapshot() ProductSnapshot {
	s := ProductSnapshot{
		Title:           p.Title,
		ShortDesc:       p.ShortDesc,
		LongDesc:        p.LongDesc,
		LogoURL:         p.LogoURL,
		MarkdownContent: p.MarkdownContent,
		IsVerified:      p.IsVerified,
		AnalyticsList:   append([]string{}, p.AnalyticsList...),
		SecurityScore:   p.SecurityScore,
		UXScore:         p.UXScore,
		DecentScore:     p.DecentScore,
		VibesScore:      p.VibesScore,
		CategoryIDs:     make([]string, 0, len(p.Categories)),
		ChainIDs:        make([]string, 0, len(p.Chains)),
		Status:          p.Status,
	}
	for _, c := range p.Categories {
		s.CategoryIDs = append(s.CategoryIDs, c.ID)
	}
	for _, c := range p.Chains {
		s.ChainIDs = append(s.ChainIDs, c.ID)
	}
	return s
}

type ProductSnapshot struct {
	Title           string   `json:"title"`
	ShortDesc       string   `json:"short_desc"`
	LongDesc        string   `json:"long_desc"`
	LogoURL         string   `json:"logo_url"`
	MarkdownContent string   `json:"markdown_content"`
	IsVerified      bool     `json:"is_verified"`
	AnalyticsList   []string `json:"analytics_list"`
	SecurityScore   float64  `json:"security_score"`
	UXScore         float64  `json:"ux_score"`
	DecentScore     float64  `json:"decent_score"`
	VibesScore      float64  `json:"vibes_score"`
	CategoryIDs     []string `json:"category_ids"`
	ChainIDs        []string `json:"chain_ids"`
	Status          string   `json:"status"`
}
