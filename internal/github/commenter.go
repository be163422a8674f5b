// Package github posts workflow diagnostics back to the originating issue.
// The concrete client shells out to the gh CLI, which carries its own
// authentication; the daemon never holds API credentials.
package github

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/adwd/internal/log"
)

// BotIdentifier prefixes every comment the daemon posts. A stable prefix
// lets redelivered events be deduplicated against existing comments.
const BotIdentifier = "🤖 [adwd]"

// DefaultCommentTimeout bounds one gh invocation.
const DefaultCommentTimeout = 15 * time.Second

// IssueCommenter posts comments to the issue tracker.
type IssueCommenter interface {
	PostComment(ctx context.Context, issueID, body string) error
}

// Compile-time check that CLIClient implements IssueCommenter.
var _ IssueCommenter = (*CLIClient)(nil)

// CLIClient posts comments by executing the gh CLI.
type CLIClient struct {
	repo    string
	workDir string
	timeout time.Duration
}

// NewCLIClient creates a client. repo is "owner/name"; when empty, gh
// resolves the repository from workDir. workDir may also be empty, in which
// case gh runs in the daemon's working directory.
func NewCLIClient(repo, workDir string) *CLIClient {
	return &CLIClient{repo: repo, workDir: workDir, timeout: DefaultCommentTimeout}
}

// PostComment executes 'gh issue comment <id> --body <body>'.
func (c *CLIClient) PostComment(ctx context.Context, issueID, body string) error {
	start := time.Now()
	defer func() {
		log.Debug(log.CatGithub, "PostComment completed", "issue_id", issueID, "duration", time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"issue", "comment", issueID, "--body", body}
	if c.repo != "" {
		args = append(args, "--repo", c.repo)
	}

	//nolint:gosec // G204: issueID is digits from the webhook envelope, body comes from our own templates
	cmd := exec.CommandContext(ctx, "gh", args...)
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			err = fmt.Errorf("gh issue comment failed: %s", strings.TrimSpace(stderr.String()))
			log.ErrorErr(log.CatGithub, "PostComment failed", err, "issue_id", issueID)
			return err
		}
		err = fmt.Errorf("gh issue comment failed: %w", err)
		log.ErrorErr(log.CatGithub, "PostComment failed", err, "issue_id", issueID)
		return err
	}
	return nil
}
