// Package git fetches project sources with the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nathanwhyte/build-hook/internal/command"
)

// TokenUsername is the placeholder user paired with an access token in clone URLs.
const TokenUsername = "x-access-token"

// Source pins a repository and branch.
type Source struct {
	URL    string
	Branch string
}

// Fetcher produces clean shallow checkouts.
type Fetcher struct {
	runner command.Runner
}

// NewFetcher creates a Fetcher that invokes git through runner.
func NewFetcher(runner command.Runner) *Fetcher {
	return &Fetcher{runner: runner}
}

// Fetch replaces dest with a fresh shallow, single-branch clone of src. When token is
// non-empty it is sent as the password of TokenUsername; otherwise the clone is
// anonymous. git is never allowed to prompt.
func (f *Fetcher) Fetch(ctx context.Context, src Source, token, dest string) error {
	if src.URL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if src.Branch == "" {
		return fmt.Errorf("branch cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create workspace parent: %w", err)
	}

	cloneURL, err := authURL(src.URL, token)
	if err != nil {
		return err
	}
	res, err := f.runner.Run(ctx, command.Command{
		Name: "git",
		Args: []string{"clone", "--depth", "1", "--single-branch", "--branch", src.Branch, "--", cloneURL, dest},
		// Prevent git from prompting for credentials interactively.
		Env: []string{"GIT_TERMINAL_PROMPT=0", "GCM_INTERACTIVE=never"},
	})
	if err != nil {
		return fmt.Errorf("git clone %s: %s", src.URL, redact(err.Error(), token))
	}
	if !res.Success() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("git clone %s (branch %s) exited with code %d: %s", src.URL, src.Branch, res.ExitCode, redact(detail, token))
	}
	return nil
}

func authURL(raw, token string) (string, error) {
	if token == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("repository URL is not a valid URL")
	}
	u.User = url.UserPassword(TokenUsername, token)
	return u.String(), nil
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	for _, v := range []string{url.QueryEscape(token), url.PathEscape(token), token} {
		s = strings.ReplaceAll(s, v, "REDACTED")
	}
	return s
}
