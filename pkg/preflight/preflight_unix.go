//go:build !windows

package preflight

// checkVolumeExists is a no-op on Unix: every path shares one namespace.
func checkVolumeExists(string) error {
	return nil
}
