// Package errs defines the stable error taxonomy shared by every component
// of the indexing core (spec §7). Callers should compare with errors.Is
// against the sentinel values, and unwrap with errors.As for the kinds that
// carry structured detail.
package errs

import "errors"

// Sentinel kinds. Components wrap these with fmt.Errorf("...: %w", Sentinel)
// to attach the offending name/key without losing the kind for errors.Is.
var (
	NotFound            = errors.New("not-found")
	UniqueViolation     = errors.New("unique-violation")
	MissingDirectoryFields = errors.New("missing-directory-fields")
	UnknownEntity       = errors.New("unknown-entity")
	UnknownIndex        = errors.New("unknown-index")
	IncompatibleSource  = errors.New("incompatible-source")
	LockNotAcquired     = errors.New("lock-not-acquired")
	LockLost            = errors.New("lock-lost")
	LimitExceeded       = errors.New("limit-exceeded")
	InvalidScore        = errors.New("invalid-score")
	InvalidStructure    = errors.New("invalid-structure")
	ParseError          = errors.New("parse-error")
	Transient           = errors.New("transient")
)

// MissingFieldsError carries the names of directory-path fields that lacked
// a runtime binding (spec §4.1 DirectoryPath.validate()).
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	s := "missing-directory-fields("
	for i, f := range e.Fields {
		if i > 0 {
			s += ", "
		}
		s += f
	}
	return s + ")"
}

func (e *MissingFieldsError) Unwrap() error { return MissingDirectoryFields }

// IncompatibleSourceError explains why an index-from-index build could not
// use a candidate source index (spec §4.8).
type IncompatibleSourceError struct {
	Reason string
}

func (e *IncompatibleSourceError) Error() string {
	return "incompatible-source: " + e.Reason
}

func (e *IncompatibleSourceError) Unwrap() error { return IncompatibleSource }

// LimitReason names which bound short-circuited a bounded algorithm
// (spec §4.7, §8 scenario 6).
type LimitReason string

const (
	LimitNone           LimitReason = ""
	LimitNodesExplored  LimitReason = "nodes-explored"
	LimitMaxDepth       LimitReason = "max-depth"
	LimitMaxIterations  LimitReason = "max-iterations"
	LimitMaxScanKeys    LimitReason = "max-scan-keys"
)

// LimitExceededError reports which bound stopped a bounded, resumable
// algorithm before it reached a complete answer.
type LimitExceededError struct {
	Reason LimitReason
}

func (e *LimitExceededError) Error() string {
	return "limit-exceeded: " + string(e.Reason)
}

func (e *LimitExceededError) Unwrap() error { return LimitExceeded }

// UniqueViolationError names the index and colliding primary key.
type UniqueViolationError struct {
	IndexName  string
	ExistingPK string
}

func (e *UniqueViolationError) Error() string {
	return "unique-violation: index=" + e.IndexName + " existing-pk=" + e.ExistingPK
}

func (e *UniqueViolationError) Unwrap() error { return UniqueViolation }
