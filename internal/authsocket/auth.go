// Package authsocket secures the Unix-socket endpoints the demo portal
// dials: an HMAC challenge handshake run before the engine's sender takes
// over the stream, peer-credential checks on accept, and hardened socket
// paths. The engine core never sees any of this; it happens inside the
// connect callback.
package authsocket

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	nonceLen         = 32
	macLen           = sha256.Size
	handshakeTimeout = 5 * time.Second

	verdictOK     = 0x06
	verdictReject = 0x15
)

// hello opens every handshake; its last byte versions the protocol. The
// MAC covers hello||nonce so neither side can be replayed against a
// different protocol version.
var hello = [4]byte{'H', 'P', 'A', 1}

// ErrAuthFailed is returned when the remote side rejects (or fails) the
// handshake.
var ErrAuthFailed = errors.New("authsocket: authentication failed")

// Handshake runs the shared-secret challenge protocol on a fresh
// connection. The same value serves both roles.
type Handshake struct {
	secret []byte
}

// NewHandshake builds a handshake around the shared secret.
func NewHandshake(secret []byte) *Handshake {
	return &Handshake{secret: secret}
}

func (h *Handshake) mac(nonce []byte) []byte {
	m := hmac.New(sha256.New, h.secret)
	m.Write(hello[:])
	m.Write(nonce)
	return m.Sum(nil)
}

// Client authenticates the dialing side: send hello, answer the server's
// nonce, read the verdict. The connection's deadline is restored on return.
func (h *Handshake) Client(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("authsocket: set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(hello[:]); err != nil {
		return fmt.Errorf("authsocket: send hello: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(conn, nonce); err != nil {
		return fmt.Errorf("authsocket: read nonce: %w", err)
	}

	if _, err := conn.Write(h.mac(nonce)); err != nil {
		return fmt.Errorf("authsocket: send proof: %w", err)
	}

	var verdict [1]byte
	if _, err := io.ReadFull(conn, verdict[:]); err != nil {
		return fmt.Errorf("authsocket: read verdict: %w", err)
	}
	if verdict[0] != verdictOK {
		return ErrAuthFailed
	}
	return nil
}

// Server authenticates the accepting side: check the hello, issue a nonce,
// verify the proof, answer with a verdict byte.
func (h *Handshake) Server(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("authsocket: set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	var greeting [len(hello)]byte
	if _, err := io.ReadFull(conn, greeting[:]); err != nil {
		return fmt.Errorf("authsocket: read hello: %w", err)
	}
	if greeting != hello {
		conn.Write([]byte{verdictReject}) //nolint:errcheck
		return fmt.Errorf("authsocket: unexpected hello %x", greeting)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("authsocket: generate nonce: %w", err)
	}
	if _, err := conn.Write(nonce); err != nil {
		return fmt.Errorf("authsocket: send nonce: %w", err)
	}

	proof := make([]byte, macLen)
	if _, err := io.ReadFull(conn, proof); err != nil {
		return fmt.Errorf("authsocket: read proof: %w", err)
	}

	if !hmac.Equal(proof, h.mac(nonce)) {
		conn.Write([]byte{verdictReject}) //nolint:errcheck
		return ErrAuthFailed
	}
	if _, err := conn.Write([]byte{verdictOK}); err != nil {
		return fmt.Errorf("authsocket: send verdict: %w", err)
	}
	return nil
}

// RandomSecret generates a fresh 32-byte shared secret.
func RandomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("authsocket: generate secret: %w", err)
	}
	return secret, nil
}

// DeriveSecret turns a passphrase into a fixed-length secret.
func DeriveSecret(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// SecretFromHex decodes a hex-encoded secret, as stored in config files.
func SecretFromHex(s string) ([]byte, error) {
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("authsocket: decode secret: %w", err)
	}
	return secret, nil
}
