package core

import "github.com/google/uuid"

// Job is one push to build: which repository, which branch and which commit.
// It is created at intake and not modified afterwards.
type Job struct {
	ID         string // correlates console lines and ledger records
	CloneURL   string
	Repository string // full name, e.g. "octo/hello"
	Branch     string
	CommitSHA  string
	MainBranch string
}

// NewJob creates a job with a fresh ID.
func NewJob(cloneURL, repository, branch, commitSHA, mainBranch string) Job {
	return Job{
		ID:         uuid.NewString(),
		CloneURL:   cloneURL,
		Repository: repository,
		Branch:     branch,
		CommitSHA:  commitSHA,
		MainBranch: mainBranch,
	}
}

// Task is a configured pipeline step
type Task struct {
	Name    string   `yaml:"name"`    // shown in the failure status, e.g. "test"
	Command string   `yaml:"command"` // executable, e.g. "cargo"
	Args    []string `yaml:"args"`
}
