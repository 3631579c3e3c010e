package atfp

import (
	"fmt"
	"strings"
)

// ErrorSet accumulates structured, per-request errors under the well-known
// sections spec.md §7 names: storage, transcoder, reason, body, internal,
// and the field-tagged keys resource_id, req_seq, type, usr_id. It plays
// the role the teacher's StageError/ConfigurationError pair plays for
// pipeline failures, but as a small map rather than a single typed error,
// since ATFP accumulates across several substeps before a run aborts.
type ErrorSet struct {
	sections   map[string]string
	httpStatus int
}

// NewErrorSet returns an empty ErrorSet.
func NewErrorSet() *ErrorSet {
	return &ErrorSet{sections: make(map[string]string)}
}

// Set records a human-readable message under section, overwriting any
// previous message in that section.
func (e *ErrorSet) Set(section, message string) *ErrorSet {
	e.sections[section] = message
	return e
}

// SetHTTPStatus records the status an inner stage knows the failure should
// surface as; the last call wins.
func (e *ErrorSet) SetHTTPStatus(status int) *ErrorSet {
	e.httpStatus = status
	return e
}

// Get returns the message recorded under section, if any.
func (e *ErrorSet) Get(section string) (string, bool) {
	v, ok := e.sections[section]
	return v, ok
}

// HTTPStatus returns the recorded status, or 0 if none was set.
func (e *ErrorSet) HTTPStatus() int {
	return e.httpStatus
}

// Empty reports whether no section has been recorded.
func (e *ErrorSet) Empty() bool {
	return len(e.sections) == 0
}

// Error implements the error interface, rendering sections in a stable
// order for reproducible log lines.
func (e *ErrorSet) Error() string {
	if e.Empty() {
		return "atfp: error"
	}
	order := []string{"storage", "transcoder", "reason", "body", "internal", "resource_id", "req_seq", "type", "usr_id"}
	var parts []string
	seen := make(map[string]bool)
	for _, k := range order {
		if v, ok := e.sections[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
			seen[k] = true
		}
	}
	for k, v := range e.sections {
		if !seen[k] {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return "atfp: " + strings.Join(parts, ", ")
}

// Sentinel well-known section names.
const (
	SectionStorage    = "storage"
	SectionTranscoder = "transcoder"
	SectionReason     = "reason"
	SectionBody       = "body"
	SectionInternal   = "internal"
	SectionResourceID = "resource_id"
	SectionReqSeq     = "req_seq"
	SectionType       = "type"
	SectionUsrID      = "usr_id"
)
