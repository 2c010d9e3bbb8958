//go:build !windows

package objstore

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// clearReadOnly grants the owner write access to p.
func clearReadOnly(p string, mode os.FileMode) error {
	if mode.Perm()&util.PermUserWrite != 0 {
		return nil
	}
	return unix.Chmod(p, uint32(util.WithUserWritePermission(mode.Perm())))
}
