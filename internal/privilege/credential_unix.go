//go:build unix

package privilege

import (
	"os/exec"
	"syscall"

	"github.com/coral-mesh/devrelay/internal/safe"
)

// RunAs makes cmd start with u's uid and gid.
func RunAs(cmd *exec.Cmd, u *UserContext) {
	uid, _ := safe.IntToUint32(u.UID)
	gid, _ := safe.IntToUint32(u.GID)

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uid, Gid: gid}
}
