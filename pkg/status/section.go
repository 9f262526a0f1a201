package status

import "fmt"

// SectionType represents the semantic type of a section header in the run log.
type SectionType int

const (
	// SectionGeneric is a static section header, e.g. "final report".
	SectionGeneric SectionType = iota
	// SectionPhase opens a numbered phase.
	SectionPhase
)

// Section carries structured information about a section header.
// Index and Total are 1-based and only meaningful for SectionPhase.
type Section struct {
	Type  SectionType
	Index int
	Total int
	Label string // human-readable display text
}

// NewPhaseSection creates a section for phase index of total.
func NewPhaseSection(index, total int, title string) Section {
	return Section{
		Type:  SectionPhase,
		Index: index,
		Total: total,
		Label: fmt.Sprintf("[%d/%d] %s", index, total, title),
	}
}

// NewGenericSection creates a static section header.
func NewGenericSection(label string) Section {
	return Section{Type: SectionGeneric, Label: label}
}
