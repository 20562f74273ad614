package compliance

import (
	"fmt"
	"time"
)

// Severity classifies a validation rule outcome.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// WhenClause is the predicate a scenario or validation rule is gated on.
// An unset field never constrains the match; every set field must match
// exactly. GVWR bounds are inclusive.
type WhenClause struct {
	DealTypes         []DealType `json:"deal_types,omitempty"`
	HasTradeIn        *bool      `json:"has_trade_in,omitempty"`
	IsFinanced        *bool      `json:"is_financed,omitempty"`
	HasLienholder     *bool      `json:"has_lienholder,omitempty"`
	IsOutOfStateBuyer *bool      `json:"is_out_of_state_buyer,omitempty"`
	MinGVWR           *float64   `json:"min_gvwr,omitempty"`
	MaxGVWR           *float64   `json:"max_gvwr,omitempty"`
}

// Matches evaluates the clause against a snapshot.
func (w WhenClause) Matches(s Snapshot) bool {
	if len(w.DealTypes) > 0 {
		found := false
		for _, t := range w.DealTypes {
			if t == s.DealType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if w.HasTradeIn != nil && *w.HasTradeIn != s.HasTradeIn {
		return false
	}
	if w.IsFinanced != nil && *w.IsFinanced != s.IsFinanced {
		return false
	}
	if w.HasLienholder != nil && *w.HasLienholder != s.HasLienholder {
		return false
	}
	if w.IsOutOfStateBuyer != nil && *w.IsOutOfStateBuyer != s.IsOutOfStateBuyer() {
		return false
	}
	if w.MinGVWR != nil && s.VehicleGVWR < *w.MinGVWR {
		return false
	}
	if w.MaxGVWR != nil && s.VehicleGVWR > *w.MaxGVWR {
		return false
	}
	return true
}

// Scenario contributes documents to the checklist when its clause matches.
type Scenario struct {
	Name              string     `json:"name,omitempty"`
	When              WhenClause `json:"when"`
	RequiredDocuments []string   `json:"required_documents,omitempty"`
	OptionalDocuments []string   `json:"optional_documents,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

// ValidationRule surfaces a data problem independently of scenarios.
type ValidationRule struct {
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	Severity Severity   `json:"severity"`
	Field    string     `json:"field,omitempty"`
	When     WhenClause `json:"when"`
}

// RuleSet is one published version of a jurisdiction's compliance
// configuration. Published documents are never mutated; amendments are new
// versions with a fresh effective range.
type RuleSet struct {
	Jurisdiction   string           `json:"jurisdiction"`
	EffectiveFrom  string           `json:"effective_from"`
	EffectiveTo    string           `json:"effective_to,omitempty"`
	Scenarios      []Scenario       `json:"scenarios,omitempty"`
	Validations    []ValidationRule `json:"validations,omitempty"`
	ComputedFields map[string]any   `json:"computed_fields,omitempty"`
	NotLegalAdvice bool             `json:"not_legal_advice,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

const dateLayout = "2006-01-02"

// ValidateSchema checks the structural validity of a rule-set document. The
// admin publish path hard-rejects on error; the evaluator merely skips
// documents that fail it.
func (rs RuleSet) ValidateSchema() error {
	if len(rs.Jurisdiction) != 2 {
		return fmt.Errorf("compliance: jurisdiction must be a two-letter code, got %q", rs.Jurisdiction)
	}
	if rs.EffectiveFrom == "" {
		return fmt.Errorf("compliance: effective_from is required")
	}
	from, err := time.Parse(dateLayout, rs.EffectiveFrom)
	if err != nil {
		return fmt.Errorf("compliance: parse effective_from: %w", err)
	}
	if rs.EffectiveTo != "" {
		to, err := time.Parse(dateLayout, rs.EffectiveTo)
		if err != nil {
			return fmt.Errorf("compliance: parse effective_to: %w", err)
		}
		if !to.After(from) {
			return fmt.Errorf("compliance: effective_to must be after effective_from")
		}
	}
	for i, sc := range rs.Scenarios {
		if err := validateClause(sc.When); err != nil {
			return fmt.Errorf("compliance: scenario %d: %w", i, err)
		}
		for _, doc := range sc.RequiredDocuments {
			if doc == "" {
				return fmt.Errorf("compliance: scenario %d: empty required document code", i)
			}
		}
		for _, doc := range sc.OptionalDocuments {
			if doc == "" {
				return fmt.Errorf("compliance: scenario %d: empty optional document code", i)
			}
		}
	}
	for i, v := range rs.Validations {
		if v.Code == "" || v.Message == "" {
			return fmt.Errorf("compliance: validation %d: code and message are required", i)
		}
		if v.Severity != SeverityError && v.Severity != SeverityWarning {
			return fmt.Errorf("compliance: validation %d: severity must be error or warning, got %q", i, v.Severity)
		}
		if err := validateClause(v.When); err != nil {
			return fmt.Errorf("compliance: validation %d: %w", i, err)
		}
	}
	return nil
}

func validateClause(w WhenClause) error {
	for _, t := range w.DealTypes {
		if !ValidDealType(t) {
			return fmt.Errorf("unknown deal type %q in when clause", t)
		}
	}
	if w.MinGVWR != nil && w.MaxGVWR != nil && *w.MinGVWR > *w.MaxGVWR {
		return fmt.Errorf("min_gvwr exceeds max_gvwr")
	}
	return nil
}
