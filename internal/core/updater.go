package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// Updater brings the local working copy to the tip of a branch. It always
// re-syncs the main branch first so merges see its latest history.
type Updater struct {
	Runner CommandRunner
	Dir    string // working copy location
}

func NewUpdater(runner CommandRunner, dir string) *Updater {
	return &Updater{Runner: runner, Dir: dir}
}

// Update clones cloneURL when no working copy exists yet, then checks out and
// pulls mainBranch followed by branch. The first failing step stops the
// sequence; earlier steps are not undone.
func (u *Updater) Update(ctx context.Context, log LogWriter, cloneURL, branch, mainBranch string) error {
	if !u.exists() {
		parent := filepath.Dir(u.Dir)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return zerr.Wrap(err, "create working copy parent")
		}
		if err := u.git(ctx, log, parent, "clone", cloneURL, filepath.Base(u.Dir)); err != nil {
			return err
		}
	}

	steps := [][]string{
		{"checkout", mainBranch},
		{"pull"},
		{"checkout", branch},
		{"pull"},
	}
	for _, step := range steps {
		if err := u.git(ctx, log, u.Dir, step...); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) exists() bool {
	_, err := os.Stat(filepath.Join(u.Dir, ".git"))
	return err == nil
}

func (u *Updater) git(ctx context.Context, log LogWriter, dir string, args ...string) error {
	log.Append("$ git " + strings.Join(args, " "))
	err := u.Runner.Run(ctx, dir, log, "git", args...)
	log.Flush()
	if err != nil {
		return zerr.With(zerr.Wrap(err, "update working copy"), "step", "git "+args[0])
	}
	return nil
}
