package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDefectStatus(t *testing.T) {
	tests := []struct {
		label string
		want  DefectStatus
		ok    bool
	}{
		{"open", DefectStatusOpen, true},
		{"Abierto", DefectStatusOpen, true},
		{"in_progress", DefectStatusInProgress, true},
		{"En Progreso", DefectStatusInProgress, true},
		{"RESUELTO", DefectStatusResolved, true},
		{"Cerrado", DefectStatusClosed, true},
		{"reopened", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseDefectStatus(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTestStatus(t *testing.T) {
	tests := []struct {
		label string
		want  TestStatus
		ok    bool
	}{
		{"", TestStatusNone, true},
		{"not_executed", TestStatusNotExecuted, true},
		{"No Ejecutado", TestStatusNotExecuted, true},
		{"Exitoso", TestStatusSuccessful, true},
		{"fallido", TestStatusFailed, true},
		{"Bloqueado", TestStatusBlocked, true},
		{"En ejecución", TestStatusInProgress, true},
		{"skipped", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseTestStatus(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefectRelationKey(t *testing.T) {
	r := &DefectRelation{TestCaseID: "tc-1", DefectID: "d-1"}
	assert.Equal(t, "tc-1|d-1", r.Key())
}
