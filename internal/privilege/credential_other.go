//go:build !unix

package privilege

import "os/exec"

// RunAs is a no-op where process credentials cannot be set.
func RunAs(cmd *exec.Cmd, u *UserContext) {}
