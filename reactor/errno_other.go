//go:build !unix

package reactor

// ErrnoName has no symbolic table on this platform.
func ErrnoName(code int) string {
	return ""
}
