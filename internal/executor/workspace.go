package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"runbox/internal/logging"
)

// workspace is the transient on-disk directory holding one execution's input
// files. It exists before the child is spawned and is removed after the child
// is fully terminated, on every exit path.
type workspace struct {
	root     string
	entryRel string
}

// newWorkspace materializes the request bundle under a unique directory with
// mode 0700. Every path is re-validated against the real filesystem as the
// second line of defense behind request validation.
func newWorkspace(baseDir, execID string, files []SubmittedFile, entryExecutable bool) (*workspace, error) {
	root, err := os.MkdirTemp(baseDir, fmt.Sprintf("exec-%s-", execID[:8]))
	if err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", ErrInternal, err)
	}
	if err := os.Chmod(root, 0o700); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: workspace permissions: %v", ErrInternal, err)
	}

	ws := &workspace{root: root}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		ws.remove()
		return nil, fmt.Errorf("%w: resolve workspace root: %v", ErrInternal, err)
	}

	for i, f := range files {
		rel := filepath.Clean(f.Name)
		if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			ws.remove()
			return nil, fmt.Errorf("%w: invalid file path %q", ErrInvalidRequest, f.Name)
		}
		target := filepath.Join(root, rel)

		dir := filepath.Dir(target)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			ws.remove()
			return nil, fmt.Errorf("%w: create directories for %q: %v", ErrInternal, f.Name, err)
		}
		realDir, err := filepath.EvalSymlinks(dir)
		if err != nil || (realDir != realRoot && !strings.HasPrefix(realDir, realRoot+string(filepath.Separator))) {
			ws.remove()
			return nil, fmt.Errorf("%w: file path %q escapes the workspace", ErrInvalidRequest, f.Name)
		}

		mode := os.FileMode(0o600)
		if i == 0 && entryExecutable {
			mode = 0o700
		}
		if err := writeExcl(target, f.Content, mode); err != nil {
			ws.remove()
			return nil, fmt.Errorf("%w: write %q: %v", ErrInternal, f.Name, err)
		}
		if i == 0 {
			ws.entryRel = rel
		}
	}

	return ws, nil
}

// writeExcl creates the file with O_EXCL so a duplicate or pre-existing path
// can never be silently overwritten.
func writeExcl(path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// remove deletes the workspace recursively. Best-effort: a path that refuses
// to unlink is logged, never surfaced to the caller.
func (w *workspace) remove() {
	if w.root == "" {
		return
	}
	if err := os.RemoveAll(w.root); err != nil {
		logging.L().Warn("workspace cleanup failed",
			zap.String("workspace", w.root),
			zap.Error(err))
	}
}
