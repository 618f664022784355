// Package changeset parses and validates the proposed product fields carried
// by a pending change. Payloads are checked when they are submitted so that
// nothing malformed ever reaches the revision store.
package changeset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"ethapplist/internal/apperr"
	"ethapplist/internal/models"

	"gorm.io/datatypes"
)

const (
	MaxTitle        = 100
	MaxShortDesc    = 280
	MaxLongDesc     = 5000
	MaxMarkdown     = 100000
	MaxAnalytics    = 20
	MaxAnalyticsLen = 200
	MaxRefs         = 20
)

// Ref points at a category or chain. Clients may send a bare id or the full
// object they received from a listing; only the id is kept.
type Ref struct {
	ID string `json:"id"`
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	raw, ok := obj["id"]
	if !ok {
		r.ID = ""
		return nil
	}
	return json.Unmarshal(raw, &r.ID)
}

// ProductFields is the proposed field set. A nil pointer means "not part of
// this change"; for updates only non-nil fields are merged.
type ProductFields struct {
	Title           *string   `json:"title,omitempty"`
	ShortDesc       *string   `json:"short_desc,omitempty"`
	LongDesc        *string   `json:"long_desc,omitempty"`
	LogoURL         *string   `json:"logo_url,omitempty"`
	MarkdownContent *string   `json:"markdown_content,omitempty"`
	IsVerified      *bool     `json:"is_verified,omitempty"`
	AnalyticsList   *[]string `json:"analytics_list,omitempty"`
	SecurityScore   *float64  `json:"security_score,omitempty"`
	UXScore         *float64  `json:"ux_score,omitempty"`
	DecentScore     *float64  `json:"decent_score,omitempty"`
	VibesScore      *float64  `json:"vibes_score,omitempty"`
	Categories      *[]Ref    `json:"categories,omitempty"`
	Chains          *[]Ref    `json:"chains,omitempty"`
}

// Parse decodes data strictly, cleans plain-text fields and validates the
// result for the given change type. Delete changes carry no fields.
func Parse(changeType string, data []byte) (*ProductFields, error) {
	f, err := decode(changeType, data)
	if err != nil {
		return nil, err
	}
	f.clean()
	if err := f.Validate(changeType); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode reads change_data that Parse already normalized, such as a stored
// pending change, and validates it without cleaning it again. What a
// curator reviewed is exactly what gets published.
func Decode(changeType string, data []byte) (*ProductFields, error) {
	f, err := decode(changeType, data)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(changeType); err != nil {
		return nil, err
	}
	return f, nil
}

func decode(changeType string, data []byte) (*ProductFields, error) {
	if !models.ValidChangeType(changeType) {
		return nil, apperr.Validation("invalid change", map[string]string{"change_type": "must be create, update or delete"})
	}

	trimmed := bytes.TrimSpace(data)
	if changeType == models.ChangeDelete {
		switch string(trimmed) {
		case "", "null", "{}":
			return &ProductFields{}, nil
		}
		return nil, apperr.Validation("invalid change", map[string]string{"change_data": "must be empty for delete"})
	}
	if len(trimmed) == 0 {
		return nil, apperr.Validation("invalid change", map[string]string{"change_data": "required"})
	}

	var f ProductFields
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, apperr.Validation("invalid change", map[string]string{"change_data": decodeMessage(err)})
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.Validation("invalid change", map[string]string{"change_data": "trailing data after object"})
	}
	return &f, nil
}

func decodeMessage(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "unknown field " + strings.TrimPrefix(msg, "json: unknown field ")
	}
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return fmt.Sprintf("field %s has wrong type", te.Field)
	}
	return "malformed JSON"
}

func (f *ProductFields) clean() {
	for _, s := range []*string{f.Title, f.ShortDesc, f.LongDesc} {
		if s != nil {
			*s = StripMarkup(strings.TrimSpace(*s))
		}
	}
	if f.LogoURL != nil {
		*f.LogoURL = strings.TrimSpace(*f.LogoURL)
	}
	if f.AnalyticsList != nil {
		out := make([]string, 0, len(*f.AnalyticsList))
		for _, item := range *f.AnalyticsList {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		f.AnalyticsList = &out
	}
	for _, refs := range []*[]Ref{f.Categories, f.Chains} {
		if refs == nil {
			continue
		}
		for i := range *refs {
			(*refs)[i].ID = strings.TrimSpace((*refs)[i].ID)
		}
	}
}

// Empty reports whether no field is set.
func (f *ProductFields) Empty() bool {
	return f.Title == nil && f.ShortDesc == nil && f.LongDesc == nil && f.LogoURL == nil &&
		f.MarkdownContent == nil && f.IsVerified == nil && f.AnalyticsList == nil &&
		f.SecurityScore == nil && f.UXScore == nil && f.DecentScore == nil && f.VibesScore == nil &&
		f.Categories == nil && f.Chains == nil
}

func (f *ProductFields) Validate(changeType string) error {
	errs := map[string]string{}

	switch changeType {
	case models.ChangeCreate:
		if f.Title == nil || *f.Title == "" {
			errs["title"] = "required"
		}
		if f.ShortDesc == nil || *f.ShortDesc == "" {
			errs["short_desc"] = "required"
		}
	case models.ChangeUpdate:
		if f.Empty() {
			errs["change_data"] = "at least one field is required"
		}
		if f.Title != nil && *f.Title == "" {
			errs["title"] = "must not be empty"
		}
		if f.ShortDesc != nil && *f.ShortDesc == "" {
			errs["short_desc"] = "must not be empty"
		}
	case models.ChangeDelete:
		if !f.Empty() {
			errs["change_data"] = "must be empty for delete"
		}
	}

	checkLen(errs, "title", f.Title, MaxTitle)
	checkLen(errs, "short_desc", f.ShortDesc, MaxShortDesc)
	checkLen(errs, "long_desc", f.LongDesc, MaxLongDesc)

	if f.LogoURL != nil && *f.LogoURL != "" {
		if err := CheckWebURL(*f.LogoURL); err != nil {
			errs["logo_url"] = err.Error()
		}
	}
	if f.MarkdownContent != nil {
		if len(*f.MarkdownContent) > MaxMarkdown {
			errs["markdown_content"] = fmt.Sprintf("must be at most %d bytes", MaxMarkdown)
		} else if err := CheckMarkdown(*f.MarkdownContent); err != nil {
			errs["markdown_content"] = err.Error()
		}
	}
	if f.AnalyticsList != nil {
		if len(*f.AnalyticsList) > MaxAnalytics {
			errs["analytics_list"] = fmt.Sprintf("at most %d entries", MaxAnalytics)
		}
		for _, item := range *f.AnalyticsList {
			if utf8.RuneCountInString(item) > MaxAnalyticsLen {
				errs["analytics_list"] = fmt.Sprintf("entries must be at most %d characters", MaxAnalyticsLen)
				break
			}
		}
	}

	scores := map[string]*float64{
		"security_score": f.SecurityScore,
		"ux_score":       f.UXScore,
		"decent_score":   f.DecentScore,
		"vibes_score":    f.VibesScore,
	}
	for name, v := range scores {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			errs[name] = "must be between 0 and 1"
		}
	}

	checkRefs(errs, "categories", f.Categories)
	checkRefs(errs, "chains", f.Chains)

	if len(errs) > 0 {
		return apperr.Validation("invalid product fields", errs)
	}
	return nil
}

func checkLen(errs map[string]string, name string, s *string, max int) {
	if s != nil && utf8.RuneCountInString(*s) > max {
		errs[name] = fmt.Sprintf("must be at most %d characters", max)
	}
}

func checkRefs(errs map[string]string, name string, refs *[]Ref) {
	if refs == nil {
		return
	}
	if len(*refs) > MaxRefs {
		errs[name] = fmt.Sprintf("at most %d entries", MaxRefs)
		return
	}
	for i, r := range *refs {
		if r.ID == "" {
			errs[name] = fmt.Sprintf("entry %d is missing an id", i)
			return
		}
	}
}

// CategoryIDs returns the referenced category ids, deduplicated, and whether
// the field was part of the change.
func (f *ProductFields) CategoryIDs() ([]string, bool) {
	return refIDs(f.Categories)
}

func (f *ProductFields) ChainIDs() ([]string, bool) {
	return refIDs(f.Chains)
}

func refIDs(refs *[]Ref) ([]string, bool) {
	if refs == nil {
		return nil, false
	}
	seen := make(map[string]bool, len(*refs))
	ids := make([]string, 0, len(*refs))
	for _, r := range *refs {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	return ids, true
}

// Apply merges the scalar fields onto p. Associations are resolved by the
// caller because they need the database.
func (f *ProductFields) Apply(p *models.Product) {
	if f.Title != nil {
		p.Title = *f.Title
	}
	if f.ShortDesc != nil {
		p.ShortDesc = *f.ShortDesc
	}
	if f.LongDesc != nil {
		p.LongDesc = *f.LongDesc
	}
	if f.LogoURL != nil {
		p.LogoURL = *f.LogoURL
	}
	if f.MarkdownContent != nil {
		p.MarkdownContent = *f.MarkdownContent
	}
	if f.IsVerified != nil {
		p.IsVerified = *f.IsVerified
	}
	if f.AnalyticsList != nil {
		p.AnalyticsList = datatypes.JSONSlice[string](append([]string{}, *f.AnalyticsList...))
	}
	if f.SecurityScore != nil {
		p.SecurityScore = *f.SecurityScore
	}
	if f.UXScore != nil {
		p.UXScore = *f.UXScore
	}
	if f.DecentScore != nil {
		p.DecentScore = *f.DecentScore
	}
	if f.VibesScore != nil {
		p.VibesScore = *f.VibesScore
	}
}

// Encode returns the normalized JSON form stored as change_data.
func (f *ProductFields) Encode() string {
	if f.Empty() {
		return "{}"
	}
	b, _ := json.Marshal(f)
	return string(b)
}
