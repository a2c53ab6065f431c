package daemon

import "fmt"

// SubmissionRejectedError is returned by mutating calls (add, pause, resume,
// sequential, firstlast) when the daemon cannot be reached or answers with a
// non-success status.
type SubmissionRejectedError struct {
	Operation  string // e.g. "add", "pause"
	StatusCode int    // 0 for transport failures
	APIMessage string
	Err        error
}

func (e *SubmissionRejectedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("daemon rejected %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}
	return fmt.Sprintf("daemon rejected %s: %s", e.Operation, e.APIMessage)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return e.Err
}

// ListUnavailableError is returned by read calls (torrents, files) on
// transport failures, non-success statuses and undecodable bodies.
type ListUnavailableError struct {
	Operation  string // "torrents" or "files"
	StatusCode int
	Err        error
}

func (e *ListUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s list unavailable (HTTP %d)", e.Operation, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s list unavailable: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s list unavailable", e.Operation)
}

func (e *ListUnavailableError) Unwrap() error {
	return e.Err
}
