package models

import (
	"time"

	"github.com/joescharf/qasync/internal/ident"
)

// DefectStatus represents the lifecycle state of a defect report.
type DefectStatus string

const (
	DefectStatusOpen       DefectStatus = "open"
	DefectStatusInProgress DefectStatus = "in_progress"
	DefectStatusResolved   DefectStatus = "resolved"
	DefectStatusClosed     DefectStatus = "closed"
)

// defectStatusLabels maps folded labels (English and Spanish) to statuses.
var defectStatusLabels = map[string]DefectStatus{
	"open":        DefectStatusOpen,
	"opened":      DefectStatusOpen,
	"abierto":     DefectStatusOpen,
	"abierta":     DefectStatusOpen,
	"in progress": DefectStatusInProgress,
	"en progreso": DefectStatusInProgress,
	"en proceso":  DefectStatusInProgress,
	"resolved":    DefectStatusResolved,
	"resuelto":    DefectStatusResolved,
	"resuelta":    DefectStatusResolved,
	"closed":      DefectStatusClosed,
	"cerrado":     DefectStatusClosed,
	"cerrada":     DefectStatusClosed,
}

// ParseDefectStatus accepts a canonical status or a locale label in any
// case, with or without accents.
func ParseDefectStatus(label string) (DefectStatus, bool) {
	s, ok := defectStatusLabels[ident.Fold(label)]
	return s, ok
}

// Defect is a reported issue, cross-referenced to test cases by a free-text
// ticket code rather than a foreign key.
type Defect struct {
	ID               string
	ExternalTicketID string // e.g. "KOIN-261-T003"
	Description      string
	Status           DefectStatus
	Severity         string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}
