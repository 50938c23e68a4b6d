package job

// Kind categorizes a JobError so callers can dispatch on failure
// category with errors.As instead of matching error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRejected
	KindEncode
	KindUpload
)

// JobError wraps a pipeline failure with a Kind a caller can inspect
// via errors.As. Every JobError reaches the requester as an error
// status event and is recorded in job history; the pipeline never
// retries internally regardless of Kind.
type JobError struct {
	Kind Kind
	Err  error
}

func (e *JobError) Error() string { return e.Err.Error() }
func (e *JobError) Unwrap() error { return e.Err }
