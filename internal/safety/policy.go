package safety

import (
	"path/filepath"
	"strings"
)

// ValidateWritePath resolves relPath against absRoot and returns an absolute
// path inside the sandbox that is safe to write. It applies the same boundary
// and symlink checks as ValidateRelPath, and additionally denies writes under
// .git/ and .codelet/ and to go.mod/go.sum. On violation, returns a ToolError.
func ValidateWritePath(absRoot, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", ToolError{Code: "ERR_PATH_OUTSIDE_SANDBOX", Message: "absolute paths are not allowed"}
	}

	cleaned := filepath.Clean(relPath)
	if cleaned == "" {
		cleaned = "."
	}

	candidate := filepath.Join(absRoot, cleaned)

	// Write targets usually don't exist yet, so resolve the deepest existing
	// ancestor and rejoin the final segment. This reveals escapes via a
	// symlinked parent before the file is created.
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	} else {
		parent := filepath.Dir(candidate)
		if resolvedParent, err2 := filepath.EvalSymlinks(parent); err2 == nil {
			candidate = filepath.Join(resolvedParent, filepath.Base(candidate))
		}
	}

	rel, err := filepath.Rel(absRoot, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", ToolError{Code: "ERR_PATH_OUTSIDE_SANDBOX", Message: "requested path resolves outside the sandbox root"}
	}

	relClean := filepath.ToSlash(rel)
	if relClean == ".git" || strings.HasPrefix(relClean, ".git/") || relClean == ".codelet" || strings.HasPrefix(relClean, ".codelet/") {
		return "", ToolError{Code: "ERR_DENIED_WRITE", Message: "writes under .git/ or .codelet/ are not allowed"}
	}

	// Module metadata is off-limits at any depth
	switch filepath.Base(relClean) {
	case "go.mod", "go.sum":
		return "", ToolError{Code: "ERR_DENIED_WRITE", Message: "writes to go.mod/go.sum are not allowed"}
	}

	return candidate, nil
}
