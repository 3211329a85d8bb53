// Package pathresolve implements spec.md §4.8's path resolver: split a
// slash-separated path into its directory components, descend through
// each one (verifying every intermediate component is itself a
// directory), and return the final directory together with the last
// path component for the caller to look up, add, or remove. It is a
// direct port of original_source/src/filesys/filesys.c's get_path.
package pathresolve

import (
	"errors"
	"strings"

	"github.com/blockfs/blockfs/directory"
	"github.com/blockfs/blockfs/inode"
)

// ErrBadPath is returned for an empty path.
var ErrBadPath = errors.New("pathresolve: empty path")

// ErrNotADirectory is returned when a non-final path component (or the
// resolution's own starting point) is not a directory.
var ErrNotADirectory = errors.New("pathresolve: component is not a directory")

// Result is what a successful Resolve returns: the directory that should
// contain the final component, and that component's own name (not yet
// looked up — callers decide whether they want it to exist already, as
// with Open/Remove, or not yet, as with Create/Mkdir).
type Result struct {
	Parent *directory.Dir
	Final  string
}

// Resolve walks path starting from root (if path is absolute, i.e.
// begins with "/") or cwd (otherwise), opening and closing intermediate
// directories as it descends. The caller owns Result.Parent and must
// Close it.
func Resolve(engine *inode.Engine, root, cwd uint32, path string) (Result, error) {
	if len(path) == 0 {
		return Result{}, ErrBadPath
	}

	startSector := cwd
	if path[0] == '/' {
		startSector = root
	}

	startIno, err := engine.Open(startSector)
	if err != nil {
		return Result{}, err
	}
	dir := directory.Open(engine, startIno)
	if isDir, err := engine.IsDir(startIno); err != nil {
		_ = dir.Close()
		return Result{}, err
	} else if !isDir {
		_ = dir.Close()
		return Result{}, ErrNotADirectory
	}

	tokens := splitNonEmpty(path)
	if len(tokens) == 0 {
		return Result{Parent: dir, Final: "."}, nil
	}

	for i := 0; i < len(tokens)-1; i++ {
		sector, err := dir.Lookup(tokens[i])
		if err != nil {
			_ = dir.Close()
			return Result{}, err
		}
		next, err := engine.Open(sector)
		if err != nil {
			_ = dir.Close()
			return Result{}, err
		}
		isDir, err := engine.IsDir(next)
		if err != nil {
			_ = dir.Close()
			_ = engine.Close(next)
			return Result{}, err
		}
		if !isDir {
			_ = dir.Close()
			_ = engine.Close(next)
			return Result{}, ErrNotADirectory
		}
		_ = dir.Close()
		dir = directory.Open(engine, next)
	}

	return Result{Parent: dir, Final: tokens[len(tokens)-1]}, nil
}

func splitNonEmpty(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
