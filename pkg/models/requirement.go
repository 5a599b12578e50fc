package models

import "time"

// RequirementCategory classifies a captured requirement.
type RequirementCategory string

const (
	// CategoryFunctional describes behavior the system must exhibit.
	CategoryFunctional RequirementCategory = "functional"
	// CategoryNonFunctional describes qualities such as performance or reliability.
	CategoryNonFunctional RequirementCategory = "non-functional"
	// CategoryTechnical describes implementation-level requirements.
	CategoryTechnical RequirementCategory = "technical"
	// CategoryConstraint describes limits the solution must respect.
	CategoryConstraint RequirementCategory = "constraint"
	// CategoryAssumption describes conditions taken as given.
	CategoryAssumption RequirementCategory = "assumption"
)

// Valid returns true if the category is a known value.
func (c RequirementCategory) Valid() bool {
	switch c {
	case CategoryFunctional, CategoryNonFunctional, CategoryTechnical,
		CategoryConstraint, CategoryAssumption:
		return true
	default:
		return false
	}
}

// RequirementPriority ranks a requirement MoSCoW-style.
type RequirementPriority string

const (
	// PriorityMust marks a requirement the system cannot ship without.
	PriorityMust RequirementPriority = "must"
	// PriorityShould marks an important but deferrable requirement.
	PriorityShould RequirementPriority = "should"
	// PriorityCould marks a nice-to-have.
	PriorityCould RequirementPriority = "could"
	// PriorityWont marks an explicitly excluded requirement.
	PriorityWont RequirementPriority = "wont"
)

// Valid returns true if the priority is a known value.
func (p RequirementPriority) Valid() bool {
	switch p {
	case PriorityMust, PriorityShould, PriorityCould, PriorityWont:
		return true
	default:
		return false
	}
}

// Requirement is a single captured statement of need, produced by the
// interview engine and consumed by the decomposer.
type Requirement struct {
	// ID is the unique identifier for this requirement.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Category classifies the requirement.
	Category RequirementCategory `json:"category"`
	// Text is the requirement statement itself.
	Text string `json:"text"`
	// Priority ranks the requirement.
	Priority RequirementPriority `json:"priority"`
	// Confidence is the extractor's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Area is the functional area the requirement touches, if known.
	Area string `json:"area,omitempty"`
	// Source records where the requirement came from (interview, import).
	Source string `json:"source"`
	// CreatedAt is when the requirement was captured.
	CreatedAt time.Time `json:"created_at"`
}
