package executor

import (
	"fmt"
	"strings"
	"time"

	"runbox/internal/config"
)

// validateRequest checks every input ceiling and path rule before any
// filesystem work, and fills limit defaults. It is the first line of defense;
// workspace materialization re-checks paths against the real filesystem.
func validateRequest(cfg *config.Config, req *Request) error {
	if strings.TrimSpace(req.Language) == "" {
		return fmt.Errorf("%w: language is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidRequest)
	}

	if len(req.Files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrInvalidRequest)
	}
	if len(req.Files) > cfg.MaxFiles {
		return fmt.Errorf("%w: too many files (%d > %d)", ErrInvalidRequest, len(req.Files), cfg.MaxFiles)
	}

	seen := make(map[string]struct{}, len(req.Files))
	var total int64
	for _, f := range req.Files {
		if err := validateFileName(cfg, f.Name); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate file name %q", ErrInvalidRequest, f.Name)
		}
		seen[f.Name] = struct{}{}

		if int64(len(f.Content)) > cfg.MaxFileBytes {
			return fmt.Errorf("%w: file %q exceeds %d bytes", ErrInvalidRequest, f.Name, cfg.MaxFileBytes)
		}
		total += int64(len(f.Content))
	}
	if total > cfg.MaxTotalBytes {
		return fmt.Errorf("%w: total file size exceeds %d bytes", ErrInvalidRequest, cfg.MaxTotalBytes)
	}

	if int64(len(req.Stdin)) > cfg.MaxStdinBytes {
		return fmt.Errorf("%w: stdin exceeds %d bytes", ErrInvalidRequest, cfg.MaxStdinBytes)
	}
	if len(req.Args) > cfg.MaxArgs {
		return fmt.Errorf("%w: too many arguments (%d > %d)", ErrInvalidRequest, len(req.Args), cfg.MaxArgs)
	}

	// Limits: zero means "use the default"; anything else must sit inside the
	// configured ceilings.
	if req.TimeLimit == 0 {
		req.TimeLimit = cfg.DefaultTimeLimit
	}
	if req.TimeLimit <= 0 || req.TimeLimit > cfg.MaxTimeLimit {
		return fmt.Errorf("%w: time limit must be in (0, %s]", ErrInvalidRequest, cfg.MaxTimeLimit)
	}
	if req.MemoryMB == 0 {
		req.MemoryMB = cfg.DefaultMemoryMB
	}
	if req.MemoryMB <= 0 || req.MemoryMB > cfg.MaxMemoryMB {
		return fmt.Errorf("%w: memory limit must be in (0, %d] MB", ErrInvalidRequest, cfg.MaxMemoryMB)
	}
	if req.ProcessLimit == 0 {
		req.ProcessLimit = cfg.DefaultProcesses
	}
	if req.ProcessLimit < 1 || req.ProcessLimit > cfg.MaxProcesses {
		return fmt.Errorf("%w: process limit must be in [1, %d]", ErrInvalidRequest, cfg.MaxProcesses)
	}

	return nil
}

func validateFileName(cfg *config.Config, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalidRequest)
	}
	if len(name) > cfg.MaxNameLen {
		return fmt.Errorf("%w: file name exceeds %d characters", ErrInvalidRequest, cfg.MaxNameLen)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: file name contains NUL", ErrInvalidRequest)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return fmt.Errorf("%w: absolute file name %q", ErrInvalidRequest, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: file name %q traverses parent directories", ErrInvalidRequest, name)
		}
	}
	return nil
}

// wallGrace is slack added to the request's wall-clock limit before the
// SIGTERM cascade starts, so a program finishing right at the limit is not
// penalized for scheduler jitter.
const wallGrace = 100 * time.Millisecond
