package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pushci/internal/core"
)

const (
	// StatusContext labels every status this server posts. It is also sent as
	// the User-Agent.
	StatusContext = "Custom CI server"

	// maxDescription is the host's limit for the description field.
	maxDescription = 140

	// maxErrorBody caps how much of a rejected response is copied to the log.
	maxErrorBody = 64 * 1024

	defaultTimeout = 30 * time.Second
)

// CreateStatusRequest is the body of a commit status POST.
type CreateStatusRequest struct {
	State       string `json:"state"`
	Description string `json:"description"`
	Context     string `json:"context"`
	TargetURL   string `json:"target_url"`
}

// StatusReporter posts commit statuses to a GitHub-compatible API.
type StatusReporter struct {
	APIURL string
	Token  string
	Client *http.Client
}

// NewStatusReporter creates a reporter for the API rooted at apiURL.
func NewStatusReporter(apiURL, token string) *StatusReporter {
	return &StatusReporter{
		APIURL: strings.TrimRight(apiURL, "/"),
		Token:  token,
		Client: &http.Client{Timeout: defaultTimeout},
	}
}

// Report posts result for target. Failures are appended to log; the build goes
// on regardless and nothing is retried.
func (r *StatusReporter) Report(ctx context.Context, log core.Appender, target core.StatusTarget, result core.BuildResult) {
	// a cancelled build still gets its status posted
	ctx = context.WithoutCancel(ctx)

	body, err := json.Marshal(CreateStatusRequest{
		State:       result.Status.String(),
		Description: truncate(result.Message, maxDescription),
		Context:     StatusContext,
		TargetURL:   target.LogURL,
	})
	if err != nil {
		log.Append(fmt.Sprintf("Error: encode status: %v", err))
		return
	}

	url := fmt.Sprintf("%s/repos/%s/statuses/%s", r.APIURL, target.Repository, target.CommitSHA)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Append(fmt.Sprintf("Error: build status request: %v", err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", StatusContext)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		log.Append(fmt.Sprintf("Error: post status: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Append(fmt.Sprintf("Error: %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(text))))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func (r *StatusReporter) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
