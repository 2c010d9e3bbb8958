//go:build windows

package objstore

import (
	"os"

	"golang.org/x/sys/windows"
)

// clearReadOnly drops FILE_ATTRIBUTE_READONLY from p.
func clearReadOnly(p string, _ os.FileMode) error {
	name, err := windows.UTF16PtrFromString(p)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(name)
	if err != nil {
		return err
	}
	if attrs&windows.FILE_ATTRIBUTE_READONLY == 0 {
		return nil
	}
	return windows.SetFileAttributes(name, attrs&^windows.FILE_ATTRIBUTE_READONLY)
}
