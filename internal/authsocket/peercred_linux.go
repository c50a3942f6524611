//go:build linux

package authsocket

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// peerCreds reads SO_PEERCRED off the socket.
func peerCreds(fd int) (Creds, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Creds{}, fmt.Errorf("SO_PEERCRED: %w", err)
	}
	return Creds{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}, nil
}
