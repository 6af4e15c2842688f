package shared

import (
	"errors"
	"fmt"
)

// Posting rule violations.
var (
	ErrUnbalanced  = errors.New("accounting: journal lines must balance")
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
)

// Period state. ErrNoOpenPeriod wraps ErrInvalidPeriod so callers that only
// care about "cannot post here" match both.
var (
	ErrInvalidPeriod  = errors.New("accounting: period is not open")
	ErrPeriodLocked   = errors.New("accounting: period locked")
	ErrDateOutOfRange = errors.New("accounting: date outside period")
	ErrNoOpenPeriod   = fmt.Errorf("%w: no open period after the original", ErrInvalidPeriod)
)

var (
	// ErrSourceAlreadyLinked is returned when a source document already owns a journal.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrSourceConflict is raised by repositories on a duplicate (module, ref_id) link.
	ErrSourceConflict = errors.New("accounting: source link conflict")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrInvalidStatus is returned when reversing an entry that is not POSTED.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrMappingNotFound indicates the stock or adjustment account is not configured.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
)
