package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/retrosync/internal/ir"
)

// RejectionCode identifies the mutation family the server refused.
type RejectionCode string

const (
	ErrCodeSubmissionRejected RejectionCode = "SUBMISSION_REJECTED"
	ErrCodeUpdateRejected     RejectionCode = "UPDATE_REJECTED"
	ErrCodeDeletionRejected   RejectionCode = "DELETION_REJECTED"
)

// errMissingID refuses an acknowledged submission whose record has no id.
var errMissingID = errors.New("acknowledgment carries no idea id")

// RejectionError is a push the server settled with an error.
//
// Rejections are soft: the matching *_REJECTED action has already been
// dispatched by the time the caller sees one. An ok acknowledgment of a
// submission without an idea id is turned into a rejection as well.
type RejectionError struct {
	Code       RejectionCode
	MutationID string
	Event      string
	ID         int64     // entity id, 0 for submissions
	Reason     ir.Object // server failure payload
}

func (e *RejectionError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: %s %d refused (mutation=%s)", e.Code, e.Event, e.ID, e.MutationID)
	}
	return fmt.Sprintf("%s: %s refused (mutation=%s)", e.Code, e.Event, e.MutationID)
}

func isRejection(err error, code RejectionCode) bool {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsSubmissionRejected returns true if the server refused an idea submission.
func IsSubmissionRejected(err error) bool {
	return isRejection(err, ErrCodeSubmissionRejected)
}

// IsUpdateRejected returns true if the server refused an idea or user update.
func IsUpdateRejected(err error) bool {
	return isRejection(err, ErrCodeUpdateRejected)
}

// IsDeletionRejected returns true if the server refused an idea deletion.
func IsDeletionRejected(err error) bool {
	return isRejection(err, ErrCodeDeletionRejected)
}

// ValidationErrors rejects a candidate before it is pushed.
type ValidationErrors []ir.ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid candidate: " + strings.Join(msgs, "; ")
}
