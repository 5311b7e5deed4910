package webhook

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.trai.ch/zerr"

	"pushci/internal/core"
)

// EventHeader names the header GitHub uses for the event type.
const EventHeader = "X-GitHub-Event"

var (
	// ErrInvalidPayload is returned for bodies that are not a usable push event.
	ErrInvalidPayload = zerr.New("invalid push payload")

	zeroSHA = regexp.MustCompile(`^0+$`)
)

// Repository is the part of a push payload that locates the repository.
type Repository struct {
	CloneURL string `json:"clone_url"`
	FullName string `json:"full_name"`
}

// PushEvent is the subset of a GitHub push payload a build needs.
type PushEvent struct {
	Before     string     `json:"before"`
	After      string     `json:"after"`
	Ref        string     `json:"ref"`
	Repository Repository `json:"repository"`
}

// DecodePush parses and validates a push payload.
func DecodePush(data []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, zerr.Wrap(err, "decode push payload")
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks that every field a build depends on is present.
func (e *PushEvent) Validate() error {
	var missing []string
	if e.After == "" {
		missing = append(missing, "after")
	}
	if e.Ref == "" {
		missing = append(missing, "ref")
	}
	if e.Repository.CloneURL == "" {
		missing = append(missing, "repository.clone_url")
	}
	if e.Repository.FullName == "" {
		missing = append(missing, "repository.full_name")
	}
	if len(missing) > 0 {
		return zerr.With(ErrInvalidPayload, "missing", strings.Join(missing, ","))
	}
	return nil
}

// Branch is the pushed branch name. Refs outside refs/heads/ are returned as-is.
func (e *PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// IsDeletion reports a push whose new head is the all-zero SHA, i.e. a deleted
// branch. There is nothing to build for it.
func (e *PushEvent) IsDeletion() bool {
	return zeroSHA.MatchString(e.After)
}

// Job turns the push into a build of its head commit.
func (e *PushEvent) Job(mainBranch string) core.Job {
	return core.NewJob(e.Repository.CloneURL, e.Repository.FullName, e.Branch(), e.After, mainBranch)
}
