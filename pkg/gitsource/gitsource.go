package gitsource

import (
	"context"
	"regexp"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// FileStatus classifies one changed path between two revisions.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
)

// ChangedFile is one entry of a revision diff, restricted to .sql paths.
type ChangedFile struct {
	Path   string     `json:"path"`
	Status FileStatus `json:"status"`
}

// Source is the Git collaborator contract. Contents are untrusted bytes;
// callers parse and validate them.
type Source interface {
	// ListChangedSQLFiles diffs base against target and returns the .sql
	// paths that differ, sorted by path.
	ListChangedSQLFiles(ctx context.Context, base, target string) ([]ChangedFile, error)

	// ReadFileAt returns the contents of path as of ref.
	ReadFileAt(ctx context.Context, ref, path string) ([]byte, error)

	// ListSQLFilesAt returns every .sql path present at ref, sorted.
	ListSQLFilesAt(ctx context.Context, ref string) ([]string, error)

	// ResolveRef resolves a symbolic ref to its full commit hash. The hash
	// is what snapshots record as their revision label.
	ResolveRef(ctx context.Context, ref string) (string, error)
}

var (
	hexRefPattern  = regexp.MustCompile(`^[0-9a-fA-F]{4,40}$`)
	safeRefPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,200}$`)
)

// ValidateRef accepts abbreviated or full commit hashes and safe symbolic
// refs. Anything that could be misread as a flag, a revision range, or a
// reflog expression is rejected before it reaches a git command line.
func ValidateRef(ref string) error {
	if ref == "" {
		return errdefs.Validationf("git ref is required")
	}
	if hexRefPattern.MatchString(ref) {
		return nil
	}
	if !safeRefPattern.MatchString(ref) {
		return errdefs.Validationf("git ref %q contains unsupported characters", ref)
	}
	switch {
	case strings.Contains(ref, ".."):
		return errdefs.Validationf("git ref %q must not contain a revision range", ref)
	case strings.Contains(ref, "@{"):
		return errdefs.Validationf("git ref %q must not contain a reflog expression", ref)
	case strings.HasSuffix(ref, ".lock"), strings.HasSuffix(ref, "/"), strings.Contains(ref, "//"):
		return errdefs.Validationf("git ref %q is not a valid ref name", ref)
	}
	return nil
}

// ValidatePath accepts repository-relative file paths only. Absolute paths,
// parent traversal, and anything git could parse as a ref or option are
// rejected.
func ValidatePath(path string) error {
	if path == "" {
		return errdefs.Validationf("file path is required")
	}
	switch {
	case strings.HasPrefix(path, "/"), strings.HasPrefix(path, "\\"):
		return errdefs.Validationf("file path %q must be repository relative", path)
	case strings.HasPrefix(path, "-"), strings.HasPrefix(path, ":"):
		return errdefs.Validationf("file path %q must not begin with an option character", path)
	case strings.Contains(path, ".."):
		return errdefs.Validationf("file path %q must not traverse parent directories", path)
	case strings.Contains(path, "\x00"):
		return errdefs.Validationf("file path contains a NUL byte")
	}
	return nil
}

func isSQLPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".sql")
}
