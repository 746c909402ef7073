// Package privilege resolves the user a child process should run as when the
// relay itself was started through sudo.
package privilege

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// UserContext represents the identity of the original user when running under
// privilege escalation.
type UserContext struct {
	Username string
	UID      int
	GID      int
	HomeDir  string
}

// DetectOriginalUser extracts user identity, accounting for sudo execution.
// Under sudo it returns the caller described by SUDO_USER, SUDO_UID and
// SUDO_GID; otherwise the current user.
func DetectOriginalUser() (*UserContext, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return currentUser()
	}

	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	u, err := user.Lookup(sudoUser)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %s: %w", sudoUser, err)
	}

	return &UserContext{
		Username: sudoUser,
		UID:      uid,
		GID:      gid,
		HomeDir:  u.HomeDir,
	}, nil
}

func currentUser() (*UserContext, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return &UserContext{
		Username: u.Username,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  u.HomeDir,
	}, nil
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// IsRunningUnderSudo checks if the process is running under sudo by checking
// for the SUDO_USER environment variable.
func IsRunningUnderSudo() bool {
	return os.Getenv("SUDO_USER") != ""
}

// InvokingUser returns the sudo caller when the relay runs as root through
// sudo. It returns nil when no identity switch is needed: the relay is not
// root, or root was not reached through sudo.
func InvokingUser() (*UserContext, error) {
	if !IsRoot() || !IsRunningUnderSudo() {
		return nil, nil
	}

	u, err := DetectOriginalUser()
	if err != nil {
		return nil, err
	}
	if u.UID == 0 {
		return nil, nil
	}
	return u, nil
}

// ChownTree hands root and everything below it to u. Symlinks are changed
// themselves, never followed.
func ChownTree(root string, u *UserContext) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, u.UID, u.GID); err != nil {
			return fmt.Errorf("failed to chown %s to %d:%d: %w", path, u.UID, u.GID, err)
		}
		return nil
	})
}

// Env returns the environment entries that point a child at u's home.
func (u *UserContext) Env() []string {
	return []string{
		"HOME=" + u.HomeDir,
		"USER=" + u.Username,
		"LOGNAME=" + u.Username,
	}
}
