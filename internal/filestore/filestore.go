// Package filestore reads and writes the flat-file JSON snapshots under the
// data directory: one JSON array per entity type, field names matching the
// relational column names.
package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/tidwall/gjson"

	"github.com/joescharf/qasync/internal/models"
)

// Snapshot file names under the data directory.
const (
	TeamsFile     = "teams.json"
	CellsFile     = "cells.json"
	AnalystsFile  = "analysts.json"
	PlansFile     = "plans.json"
	TestCasesFile = "test_cases.json"
	DefectsFile   = "defects.json"
	ProjectsFile  = "projects.json"
	RelationsFile = "defect_relations.json"
)

var (
	// ErrMissingField marks a record lacking a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidValue marks a field whose value cannot be parsed.
	ErrInvalidValue = errors.New("invalid value")
)

// Codec converts between one entity type and its JSON object form.
type Codec[T any] struct {
	// Decode builds a record from one array element. It must tolerate
	// missing optional fields.
	Decode func(r gjson.Result) (T, error)
	// Encode returns a JSON-marshalable form of the record.
	Encode func(v T) any
}

// RecordError describes one array element that could not be decoded.
type RecordError struct {
	Index int
	Key   string
	Err   error
}

func (e RecordError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.Key, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Snapshot is the decoded content of one file at read time.
type Snapshot[T any] struct {
	Records []T
	Errors  []RecordError
	Exists  bool
}

// File is one entity's JSON snapshot.
type File[T any] struct {
	Path  string
	codec Codec[T]
}

// NewFile returns a File for name under dir.
func NewFile[T any](dir, name string, codec Codec[T]) *File[T] {
	return &File[T]{Path: filepath.Join(dir, name), codec: codec}
}

// Load reads the whole file. A missing file is an empty snapshot. A file
// that is not a JSON array is an error; individual elements that fail to
// decode are collected in Snapshot.Errors and skipped.
func (f *File[T]) Load() (*Snapshot[T], error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot[T]{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	snap := &Snapshot[T]{Exists: true}
	if len(bytes.TrimSpace(data)) == 0 {
		return snap, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse %s: invalid JSON", f.Path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("parse %s: expected a JSON array", f.Path)
	}

	for i, elem := range root.Array() {
		if !elem.IsObject() {
			snap.Errors = append(snap.Errors, RecordError{Index: i, Err: fmt.Errorf("%w: element is not an object", ErrInvalidValue)})
			continue
		}
		rec, err := f.codec.Decode(elem)
		if err != nil {
			snap.Errors = append(snap.Errors, RecordError{Index: i, Key: Str(elem, "id"), Err: err})
			continue
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// Exists reports whether the file is present.
func (f *File[T]) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Save replaces the file wholesale with records, atomically.
func (f *File[T]) Save(records []T) error {
	out := make([]any, 0, len(records))
	for _, r := range records {
		out = append(out, f.codec.Encode(r))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := atomic.WriteFile(f.Path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

// Files groups the snapshot files of one data directory.
type Files struct {
	Dir       string
	Teams     *File[*models.Team]
	Cells     *File[*models.Cell]
	Analysts  *File[*models.Analyst]
	Plans     *File[*models.Plan]
	TestCases *File[*models.TestCase]
	Defects   *File[*models.Defect]
	Projects  *File[*models.Project]
	Relations *File[*models.DefectRelation]
}

// Open returns the snapshot files under dir. Nothing is read until Load.
func Open(dir string) *Files {
	return &Files{
		Dir:       dir,
		Teams:     NewFile(dir, TeamsFile, TeamCodec),
		Cells:     NewFile(dir, CellsFile, CellCodec),
		Analysts:  NewFile(dir, AnalystsFile, AnalystCodec),
		Plans:     NewFile(dir, PlansFile, PlanCodec),
		TestCases: NewFile(dir, TestCasesFile, TestCaseCodec),
		Defects:   NewFile(dir, DefectsFile, DefectCodec),
		Projects:  NewFile(dir, ProjectsFile, ProjectCodec),
		Relations: NewFile(dir, RelationsFile, RelationCodec),
	}
}
