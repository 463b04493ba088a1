//go:build !windows

package osutils

// IsAdmin reports false on platforms without an elevation concept the hook cares about
func IsAdmin() bool {
	return false
}
