package models

import "time"

// DefectRelation links a test case to a defect report. A pair appears at
// most once.
type DefectRelation struct {
	TestCaseID  string
	DefectID    string
	MatchedRule string // rule that accepted the pairing; empty when imported as-is
	CreatedAt   time.Time
}

// Key returns the identity of the relation.
func (r *DefectRelation) Key() string {
	return r.TestCaseID + "|" + r.DefectID
}
