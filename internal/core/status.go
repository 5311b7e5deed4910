package core

import "context"

// CommitStatus is the outcome classification reported for a commit.
type CommitStatus int

const (
	StatusPending CommitStatus = iota
	StatusSuccess
	StatusFailure
	StatusError
)

// String returns the wire name the host expects in the "state" field.
func (s CommitStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusError:
		return "error"
	default:
		return "pending"
	}
}

// MarshalText encodes the status by its wire name.
func (s CommitStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further status follows this one.
func (s CommitStatus) Terminal() bool {
	return s != StatusPending
}

// BuildResult is what gets reported at a stage transition.
type BuildResult struct {
	Status  CommitStatus
	Message string
}

func Waiting() BuildResult {
	return BuildResult{StatusPending, "Waiting for previous job to finish..."}
}

func Running() BuildResult {
	return BuildResult{StatusPending, "Running tasks..."}
}

func UpdateFailed() BuildResult {
	return BuildResult{StatusError, "Failed to update local repository."}
}

func TaskFailed(name string) BuildResult {
	return BuildResult{StatusFailure, "Task '" + name + "' failed."}
}

func Succeeded() BuildResult {
	return BuildResult{StatusSuccess, "All tasks finished successfully."}
}

// Cancelled is the terminal result of a build that never got the lock because
// the process shut down first.
func Cancelled() BuildResult {
	return BuildResult{StatusError, "Build cancelled before it started."}
}

// String renders the result the way it is written to build logs.
func (r BuildResult) String() string {
	return r.Status.String() + ": " + r.Message
}

// Appender is a line sink. Build logs implement it.
type Appender interface {
	Append(line string)
}

// StatusTarget identifies the commit a status is posted for and the link shown
// next to it.
type StatusTarget struct {
	Repository string
	CommitSHA  string
	LogURL     string
}

// Reporter delivers a status to the source-control host. Delivery problems are
// written to log and never returned.
//
//go:generate mockgen -source=status.go -destination=mocks/mock_status.go -package=mocks
type Reporter interface {
	Report(ctx context.Context, log Appender, target StatusTarget, result BuildResult)
}

// Recorder keeps a durable record of terminal build results.
type Recorder interface {
	Record(job Job, result BuildResult, logPath string) error
}
