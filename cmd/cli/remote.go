package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"pushci/internal/webhook"
)

const defaultServer = "http://localhost:8080"

var httpClient = &http.Client{Timeout: 30 * time.Second}

func newTriggerCommand() *cobra.Command {
	var (
		serverURL string
		event     webhook.PushEvent
		branch    string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send a push notification to a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			event.Ref = "refs/heads/" + branch
			if err := event.Validate(); err != nil {
				return err
			}
			body, err := json.Marshal(event)
			if err != nil {
				return zerr.Wrap(err, "encode push event")
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint(serverURL, "push"), bytes.NewReader(body))
			if err != nil {
				return zerr.Wrap(err, "build request")
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(webhook.EventHeader, "push")
			return send(cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server base URL")
	cmd.Flags().StringVar(&event.Repository.FullName, "repo", "", "repository full name, e.g. octo/hello")
	cmd.Flags().StringVar(&event.Repository.CloneURL, "clone-url", "", "URL the server clones from")
	cmd.Flags().StringVar(&branch, "branch", "main", "pushed branch")
	cmd.Flags().StringVar(&event.After, "sha", "", "head commit of the push")
	return cmd
}

func newLogsCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "logs <sha>",
		Short: "Print the build log of a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint(serverURL, "logs", args[0]), nil)
			if err != nil {
				return zerr.Wrap(err, "build request")
			}
			return send(cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server base URL")
	return cmd
}

func endpoint(base string, parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}

// send performs req and copies the response body to out. Any non-2xx answer
// is an error carrying the body.
func send(out io.Writer, req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return zerr.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return zerr.With(zerr.New(fmt.Sprintf("server answered %s", resp.Status)), "body", strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zerr.Wrap(err, "read response")
	}
	if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n")) {
		body = append(body, '\n')
	}
	_, err = out.Write(body)
	return err
}
