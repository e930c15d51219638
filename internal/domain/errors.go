package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks a branch, entity or version absent at the queried
	// coordinates. Callers may treat it as "did not exist yet".
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict marks an optimistic-lock mismatch during a write.
	// The losing writer retries from a fresh read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrMergeAborted marks a transactional failure during merge execution.
	// The whole batch was rolled back and no versions were created.
	ErrMergeAborted = errors.New("merge aborted")
)

// MergeValidationError reports caller-supplied conflict resolutions that are
// incomplete, duplicated or reference conflicts that do not exist. No state
// is mutated when it is returned.
type MergeValidationError struct {
	Problems []string
}

func (e *MergeValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "merge resolutions failed validation"
	}
	return fmt.Sprintf("merge resolutions failed validation: %s", strings.Join(e.Problems, "; "))
}
