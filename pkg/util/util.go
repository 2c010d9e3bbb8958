package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures that any directory/file permission has the owner-write
// bit (0200) set. This prevents the sync user from being locked out on subsequent passes.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// IsHostCaseInsensitiveFS checks if the current operating system (the "host") has a case-insensitive filesystem by default.
func IsHostCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ResolveRoot expands, absolutizes and cleans a root directory argument.
func ResolveRoot(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// NormalizePath converts OS-specific separators to forward slashes.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// NormalizedRelPath returns the forward-slash path of absPath relative to root.
// The root itself is returned as ".".
func NormalizedRelPath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", err
	}
	return NormalizePath(rel), nil
}

// DenormalizedAbsPath joins a forward-slash relative key onto an OS-native root.
func DenormalizedAbsPath(root, relPathKey string) string {
	if relPathKey == "." || relPathKey == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(relPathKey))
}

// IsWithin reports whether absPath equals root or lies below it.
func IsWithin(root, absPath string) bool {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ParentKey returns the forward-slash parent of a relative key, "." for top-level entries.
func ParentKey(relPathKey string) string {
	i := strings.LastIndexByte(relPathKey, '/')
	if i < 0 {
		return "."
	}
	return relPathKey[:i]
}

// Depth counts the path segments of a relative key.
func Depth(relPathKey string) int {
	if relPathKey == "." || relPathKey == "" {
		return 0
	}
	return strings.Count(relPathKey, "/") + 1
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}
