//go:build darwin

package authsocket

import (
	"fmt"
	"syscall"
	"unsafe"
)

// peerCreds reads LOCAL_PEERCRED off the socket. Darwin reports a struct
// xucred (no PID) instead of Linux's ucred, and x/sys/unix has no typed
// helper for it, so this stays on the raw getsockopt.
func peerCreds(fd int) (Creds, error) {
	type xucred struct {
		version uint32
		uid     uint32
		ngroups int16
		groups  [16]uint32
	}

	const (
		solLocal      = 0 // sys/socket.h
		localPeercred = 1 // sys/un.h
	)

	var cred xucred
	credLen := uint32(unsafe.Sizeof(cred))
	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(solLocal),
		uintptr(localPeercred),
		uintptr(unsafe.Pointer(&cred)),
		uintptr(unsafe.Pointer(&credLen)),
		0,
	)
	if errno != 0 {
		return Creds{}, fmt.Errorf("LOCAL_PEERCRED: %v", errno)
	}
	return Creds{UID: cred.uid, GID: cred.groups[0]}, nil
}
