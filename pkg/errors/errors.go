package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/report"
)

// ConsistencyError aborts a batch because the data contradicts itself: an entity asked to merge
// into two targets, a transfer matching several others, or a merge child being merged again.
type ConsistencyError struct {
	Message    string
	RecordIDs  []string
	Criterion  string
	Report     *report.Diagnostic
	ReportPath string
}

func NewConsistencyError(msg string, recordIDs ...string) *ConsistencyError {
	return &ConsistencyError{Message: msg, RecordIDs: recordIDs}
}

func NewConsistencyErrorf(format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConsistencyError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.RecordIDs) > 0 {
		b.WriteString(" [records: ")
		b.WriteString(strings.Join(e.RecordIDs, ", "))
		b.WriteString("]")
	}
	if e.Criterion != "" {
		fmt.Fprintf(&b, " [criterion: %s]", e.Criterion)
	}
	if e.ReportPath != "" {
		fmt.Fprintf(&b, " [report: %s]", e.ReportPath)
	}
	return b.String()
}

func (e *ConsistencyError) AddRecords(ids ...string) *ConsistencyError {
	e.RecordIDs = append(e.RecordIDs, ids...)
	return e
}

func (e *ConsistencyError) AddCriterion(criterion string) *ConsistencyError {
	e.Criterion = criterion
	return e
}

func (e *ConsistencyError) AddReport(d *report.Diagnostic) *ConsistencyError {
	e.Report = d
	return e
}

func (e *ConsistencyError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).
		AddMetaValue("records", strings.Join(e.RecordIDs, ",")).
		AddMetaValue("criterion", e.Criterion).
		AddMetaValue("report", e.ReportPath)
}

// BoundedIterationError means a merge chain did not converge within the hop cap.
// It signals corrupt data and must never be retried.
type BoundedIterationError struct {
	StartID string
	Cap     int
	Path    []string
}

func NewBoundedIterationError(startID string, cap int, path []string) *BoundedIterationError {
	return &BoundedIterationError{StartID: startID, Cap: cap, Path: path}
}

func (e *BoundedIterationError) Error() string {
	return fmt.Sprintf("merge chain from %s did not resolve within %d hops: %s", e.StartID, e.Cap, strings.Join(e.Path, " -> "))
}

func (e *BoundedIterationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).AddMetaValue("start_id", e.StartID)
}

// ValidationError rejects malformed input before any state changes.
type ValidationError struct {
	Message string
	Field   string
	Row     *int
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

func NewValidationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) AddField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) AddRow(row int) *ValidationError {
	e.Row = &row
	return e
}

func (e *ValidationError) Error() string {
	path := []string{}
	if e.Row != nil {
		path = append(path, fmt.Sprintf("row %d", *e.Row))
	}
	if e.Field != "" {
		path = append(path, fmt.Sprintf("field '%s'", e.Field))
	}
	if len(path) == 0 {
		return e.Message
	}
	return strings.Join(path, " -> ") + ": " + e.Message
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

func IsConsistencyError(err error) bool {
	var target *ConsistencyError
	return errors.As(err, &target)
}

func IsBoundedIterationError(err error) bool {
	var target *BoundedIterationError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Retryable reports whether a failed batch may be attempted again unchanged.
// Consistency, validation and iteration failures need a human or a data fix first.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsConsistencyError(err) && !IsValidationError(err) && !IsBoundedIterationError(err)
}
