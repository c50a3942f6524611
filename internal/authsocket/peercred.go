package authsocket

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Creds is the platform-independent view of a Unix-socket peer's identity.
// PID is zero on platforms that don't report it.
type Creds struct {
	UID uint32
	GID uint32
	PID int32
}

// PeerPolicy says which peers an endpoint accepts. The zero value accepts
// any peer the kernel can identify.
type PeerPolicy struct {
	// RequireSameUser rejects peers whose UID differs from this process's
	// effective UID.
	RequireSameUser bool
	// AllowUIDs, when non-empty, is an allowlist checked after
	// RequireSameUser.
	AllowUIDs []uint32
	// AllowGIDs, when non-empty, is an allowlist on the peer's primary GID.
	AllowGIDs []uint32
}

// CheckPeer verifies conn's kernel-reported peer credentials against pol.
// conn must be a Unix domain socket.
func CheckPeer(conn net.Conn, pol PeerPolicy) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return errors.New("authsocket: peer check requires a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("authsocket: raw conn: %w", err)
	}

	var creds Creds
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		creds, credErr = peerCreds(int(fd))
	}); err != nil {
		return fmt.Errorf("authsocket: control: %w", err)
	}
	if credErr != nil {
		return fmt.Errorf("authsocket: peer credentials: %w", credErr)
	}

	if pol.RequireSameUser {
		if self := uint32(os.Geteuid()); creds.UID != self {
			return fmt.Errorf("authsocket: peer uid %d, want %d", creds.UID, self)
		}
	}
	if len(pol.AllowUIDs) > 0 && !contains(pol.AllowUIDs, creds.UID) {
		return fmt.Errorf("authsocket: peer uid %d not allowed", creds.UID)
	}
	if len(pol.AllowGIDs) > 0 && !contains(pol.AllowGIDs, creds.GID) {
		return fmt.Errorf("authsocket: peer gid %d not allowed", creds.GID)
	}
	return nil
}

func contains(list []uint32, v uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
