package authsocket

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

// runHandshake drives both halves over an in-memory pipe and returns each
// side's error.
func runHandshake(clientSecret, serverSecret []byte) (clientErr, serverErr error) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- NewHandshake(serverSecret).Server(server)
	}()
	clientErr = NewHandshake(clientSecret).Client(client)
	serverErr = <-done
	return clientErr, serverErr
}

func TestHandshakeSharedSecret(t *testing.T) {
	secret := DeriveSecret("both sides know this")
	clientErr, serverErr := runHandshake(secret, secret)
	if clientErr != nil {
		t.Errorf("client: %v", clientErr)
	}
	if serverErr != nil {
		t.Errorf("server: %v", serverErr)
	}
}

func TestHandshakeSecretMismatch(t *testing.T) {
	clientErr, serverErr := runHandshake(DeriveSecret("one"), DeriveSecret("other"))
	if !errors.Is(serverErr, ErrAuthFailed) {
		t.Errorf("server err = %v, want ErrAuthFailed", serverErr)
	}
	if !errors.Is(clientErr, ErrAuthFailed) {
		t.Errorf("client err = %v, want ErrAuthFailed", clientErr)
	}
}

func TestHandshakeRejectsBadHello(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- NewHandshake(DeriveSecret("s")).Server(server)
	}()
	if _, err := client.Write([]byte("nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := <-done; err == nil {
		t.Error("server accepted a connection that never sent the hello")
	}
}

func TestRandomSecretIsFresh(t *testing.T) {
	a, err := RandomSecret()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	b, err := RandomSecret()
	if err != nil {
		t.Fatalf("RandomSecret: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("secret lengths = %d, %d, want 32", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Error("two generated secrets are identical")
	}
}

func TestSecretFromHex(t *testing.T) {
	want := DeriveSecret("x")
	got, err := SecretFromHex("deadbeef")
	if err != nil {
		t.Fatalf("SecretFromHex: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("decoded length = %d, want 4", len(got))
	}
	if bytes.Equal(got, want) {
		t.Error("unrelated secrets should differ")
	}

	if _, err := SecretFromHex("not hex"); err == nil {
		t.Error("SecretFromHex accepted invalid input")
	}
}

func TestDeriveSecretIsStable(t *testing.T) {
	if !bytes.Equal(DeriveSecret("pass"), DeriveSecret("pass")) {
		t.Error("DeriveSecret must be deterministic")
	}
	if bytes.Equal(DeriveSecret("pass"), DeriveSecret("word")) {
		t.Error("different passphrases must derive different secrets")
	}
}
