package wire

import (
	"bytes"
	"testing"
)

func TestRequestResponseOverStream(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			var buf bytes.Buffer
			client := NewFramer(&buf)

			req := &Request{ID: 11, Method: "echo", Body: []byte("ping")}
			if err := WriteRequest(client, c, req); err != nil {
				t.Fatalf("WriteRequest: %v", err)
			}

			// The server decodes with whatever codec the header names,
			// without being told which one the client picked.
			server := NewFramer(&buf)
			got, serverCodec, err := ReadRequest(server)
			if err != nil {
				t.Fatalf("ReadRequest: %v", err)
			}
			if got.ID != req.ID || got.Method != req.Method || string(got.Body) != "ping" {
				t.Fatalf("ReadRequest = %+v, want %+v", got, req)
			}
			if serverCodec.Name() != c.Name() {
				t.Fatalf("server resolved codec %q, client sent %q", serverCodec.Name(), c.Name())
			}

			if err := WriteResponse(server, serverCodec, &Response{ID: got.ID, OK: true, Body: got.Body}); err != nil {
				t.Fatalf("WriteResponse: %v", err)
			}
			resp, err := ReadResponse(client)
			if err != nil {
				t.Fatalf("ReadResponse: %v", err)
			}
			if resp.ID != req.ID || !resp.OK || string(resp.Body) != "ping" {
				t.Fatalf("ReadResponse = %+v", resp)
			}
			if resp.Error() != nil {
				t.Fatalf("Error() on an OK response = %v", resp.Error())
			}
		})
	}
}

func TestResponseError(t *testing.T) {
	resp := &Response{ID: 1, OK: false, Err: "no such method"}
	if err := resp.Error(); err == nil || err.Error() != "no such method" {
		t.Errorf("Error() = %v, want the carried message", err)
	}

	blank := &Response{ID: 2, OK: false}
	if err := blank.Error(); err == nil {
		t.Error("Error() on a failed response with no message should still be non-nil")
	}
}
