package gitsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
)

// HardCap is the wall-clock ceiling for a single git invocation. Caller
// deadlines may be shorter, never longer.
const HardCap = 30 * time.Second

// Config configures a CLI source.
type Config struct {
	// RepoPath is the working tree or bare repository to read.
	RepoPath string
	// BinPath locates the git binary; "git" resolves via PATH when empty.
	BinPath string
	// Timeout bounds each invocation; clamped to HardCap.
	Timeout time.Duration
}

// CLI reads revisions by shelling out to git. It never writes to the
// repository: every subcommand used is read-only.
type CLI struct {
	repo    string
	bin     string
	timeout time.Duration
}

// NewCLI validates the repository path and returns a CLI source.
func NewCLI(cfg Config) (*CLI, error) {
	if cfg.RepoPath == "" {
		return nil, errdefs.Validationf("repository path is required")
	}
	repo, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return nil, errdefs.Validationf("repository path %q: %v", cfg.RepoPath, err)
	}
	info, err := os.Stat(repo)
	if err != nil {
		return nil, errdefs.NotFoundf("repository path %s: %v", repo, err)
	}
	if !info.IsDir() {
		return nil, errdefs.Validationf("repository path %s is not a directory", repo)
	}
	bin := cfg.BinPath
	if bin == "" {
		bin = "git"
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > HardCap {
		timeout = HardCap
	}
	return &CLI{repo: repo, bin: bin, timeout: timeout}, nil
}

// ListChangedSQLFiles diffs base against target with renames disabled so
// every change is an add, modify, or delete.
func (c *CLI) ListChangedSQLFiles(ctx context.Context, base, target string) ([]ChangedFile, error) {
	if err := ValidateRef(base); err != nil {
		return nil, err
	}
	if err := ValidateRef(target); err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "diff", "--name-status", "--no-renames", base, target, "--")
	if err != nil {
		return nil, err
	}
	var changed []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		status, path, ok := strings.Cut(line, "\t")
		if !ok || !isSQLPath(path) {
			continue
		}
		changed = append(changed, ChangedFile{Path: path, Status: parseStatus(status)})
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Path < changed[j].Path })
	return changed, nil
}

// ReadFileAt returns the blob at ref:path.
func (c *CLI) ReadFileAt(ctx context.Context, ref, path string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "show", ref+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// ListSQLFilesAt walks the tree at ref and keeps .sql paths. Filtering
// happens here rather than with a pathspec so git glob semantics never
// enter the picture.
func (c *CLI) ListSQLFilesAt(ctx context.Context, ref string) ([]string, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "ls-tree", "-r", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" && isSQLPath(line) {
			paths = append(paths, line)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ResolveRef resolves ref to its full commit hash.
func (c *CLI) ResolveRef(ctx context.Context, ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	sha := strings.TrimSpace(out)
	if !hexRefPattern.MatchString(sha) || len(sha) != 40 {
		return "", errdefs.Unexpectedf("git rev-parse returned %q for ref %s", sha, ref)
	}
	return sha, nil
}

func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.bin, args...)
	cmd.Dir = c.repo
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	gitLog := log.WithComponent("gitsource")
	gitLog.Debug().
		Str("subcommand", args[0]).
		Dur("duration", time.Since(start)).
		Bool("ok", err == nil).
		Msg("git invocation")

	if err != nil {
		if runCtx.Err() != nil {
			return "", errdefs.CollaboratorTimeout(runCtx.Err(), "git %s exceeded %s", args[0], c.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if isUnknownRevision(msg) {
			return "", errdefs.NotFoundf("git %s: %s", args[0], firstLine(msg))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", errdefs.CollaboratorDown(err, "git %s exited %d: %s", args[0], exitErr.ExitCode(), firstLine(msg))
		}
		return "", errdefs.CollaboratorDown(err, "git %s failed", args[0])
	}
	return stdout.String(), nil
}

func parseStatus(code string) FileStatus {
	switch {
	case strings.HasPrefix(code, "A"):
		return StatusAdded
	case strings.HasPrefix(code, "D"):
		return StatusDeleted
	default:
		return StatusModified
	}
}

func isUnknownRevision(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "unknown revision") ||
		strings.Contains(s, "bad revision") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "not a valid object name")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Source = (*CLI)(nil)

// String names the source for logs.
func (c *CLI) String() string {
	return fmt.Sprintf("git(%s)", c.repo)
}
