package compliance

import (
	"sort"
	"strings"
)

// ChecklistItem is one document the deal needs (or may optionally attach),
// with the provenance of why it is on the list.
type ChecklistItem struct {
	DocType  string `json:"doc_type"`
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

// ValidationIssue is a business-rule violation surfaced as data, never as an
// error return.
type ValidationIssue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
}

// Evaluation is the evaluator's output. It is recomputed on demand and never
// persisted.
type Evaluation struct {
	RequiredChecklist []ChecklistItem   `json:"required_checklist"`
	ValidationErrors  []ValidationIssue `json:"validation_errors"`
	ComputedFields    map[string]any    `json:"computed_fields"`
	Notices           []string          `json:"notices"`
}

// Base checklist per deal type: cash and lease share one list, finance
// additionally requires the retail installment contract. The base set
// guarantees the checklist is never empty even with no configuration.
var baseChecklist = map[DealType][]string{
	DealTypeCash:    {"BUYERS_ORDER", "ODOMETER_DISCLOSURE", "PRIVACY_NOTICE"},
	DealTypeLease:   {"BUYERS_ORDER", "ODOMETER_DISCLOSURE", "PRIVACY_NOTICE"},
	DealTypeFinance: {"BUYERS_ORDER", "ODOMETER_DISCLOSURE", "PRIVACY_NOTICE", "RETAIL_INSTALLMENT_CONTRACT"},
}

const (
	baseReason       = "Base checklist"
	scenarioReason   = "Scenario match"
	disclosureNotice = "Not legal advice. Document requirements are dealer-configured; confirm with your compliance officer."
	configuredNotice = "This jurisdiction's rule set is marked as dealer-authored guidance, not legal advice."
)

type checklistEntry struct {
	required bool
	reasons  []string
}

func (e *checklistEntry) addReason(reason string) {
	for _, r := range e.reasons {
		if r == reason {
			return
		}
	}
	e.reasons = append(e.reasons, reason)
}

// Evaluate runs the rule sets against a deal snapshot. It is pure and
// deterministic: same inputs produce the same checklist order, issues, and
// computed fields. Rule sets that fail schema validation are skipped —
// malformed configuration must never break an evaluation.
func Evaluate(s Snapshot, ruleSets []RuleSet) Evaluation {
	entries := map[string]*checklistEntry{}
	for _, doc := range baseChecklist[s.DealType] {
		entries[doc] = &checklistEntry{required: true, reasons: []string{baseReason}}
	}

	issues := []ValidationIssue{}
	computed := map[string]any{}
	notices := []string{disclosureNotice}

	for _, rs := range ruleSets {
		if err := rs.ValidateSchema(); err != nil {
			continue
		}

		for _, sc := range rs.Scenarios {
			if !sc.When.Matches(s) {
				continue
			}
			reason := sc.Notes
			if reason == "" {
				reason = scenarioReason
			}
			for _, doc := range sc.RequiredDocuments {
				e, ok := entries[doc]
				if !ok {
					e = &checklistEntry{}
					entries[doc] = e
				}
				e.required = true
				e.addReason(reason)
			}
			for _, doc := range sc.OptionalDocuments {
				e, ok := entries[doc]
				if !ok {
					e = &checklistEntry{}
					entries[doc] = e
				}
				e.addReason(reason)
			}
		}

		for _, v := range rs.Validations {
			if !v.When.Matches(s) {
				continue
			}
			issues = append(issues, ValidationIssue{
				Code:     v.Code,
				Message:  v.Message,
				Severity: v.Severity,
				Field:    v.Field,
			})
		}

		// Later rule sets overwrite earlier keys on conflict.
		for k, v := range rs.ComputedFields {
			computed[k] = v
		}

		if rs.NotLegalAdvice {
			notices = appendUnique(notices, configuredNotice)
		}
	}

	docTypes := make([]string, 0, len(entries))
	for doc := range entries {
		docTypes = append(docTypes, doc)
	}
	sort.Strings(docTypes)

	checklist := make([]ChecklistItem, 0, len(docTypes))
	for _, doc := range docTypes {
		e := entries[doc]
		checklist = append(checklist, ChecklistItem{
			DocType:  doc,
			Required: e.required,
			Reason:   strings.Join(e.reasons, "; "),
		})
	}

	return Evaluation{
		RequiredChecklist: checklist,
		ValidationErrors:  issues,
		ComputedFields:    computed,
		Notices:           notices,
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
