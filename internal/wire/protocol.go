package wire

import (
	"errors"
	"fmt"
)

// Request is the envelope a demo GOP's send phase writes. Body is opaque
// pre-encoded bytes; the envelope itself is encoded by whichever Codec the
// caller picked, with the codec id carried in the frame header.
type Request struct {
	ID     uint64 `json:"id" msgpack:"id"`
	Method string `json:"method" msgpack:"method"`
	Body   []byte `json:"body,omitempty" msgpack:"body,omitempty"`
}

// Response is the envelope a demo GOP's recv phase reads back.
type Response struct {
	ID   uint64 `json:"id" msgpack:"id"`
	OK   bool   `json:"ok" msgpack:"ok"`
	Body []byte `json:"body,omitempty" msgpack:"body,omitempty"`
	Err  string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Error returns the failure a response carries, or nil for an OK response.
func (r *Response) Error() error {
	if r.OK {
		return nil
	}
	if r.Err == "" {
		return errors.New("wire: unspecified remote error")
	}
	return errors.New(r.Err)
}

// WriteRequest encodes req with c and frames it onto f.
func WriteRequest(f *Framer, c Codec, req *Request) error {
	payload, err := c.Marshal(req)
	if err != nil {
		return fmt.Errorf("wire: encode request %d: %w", req.ID, err)
	}
	return f.Write(&Frame{OpID: req.ID, CodecID: c.ID(), Payload: payload})
}

// ReadRequest reads one framed request, decoding it with whatever codec
// the frame header names. It returns the codec alongside so the reply can
// be encoded the same way.
func ReadRequest(f *Framer) (*Request, Codec, error) {
	fr, err := f.Read()
	if err != nil {
		return nil, nil, err
	}
	c, err := ByID(fr.CodecID)
	if err != nil {
		return nil, nil, err
	}
	var req Request
	if err := c.Unmarshal(fr.Payload, &req); err != nil {
		return nil, nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &req, c, nil
}

// WriteResponse encodes resp with c and frames it onto f.
func WriteResponse(f *Framer, c Codec, resp *Response) error {
	payload, err := c.Marshal(resp)
	if err != nil {
		return fmt.Errorf("wire: encode response %d: %w", resp.ID, err)
	}
	return f.Write(&Frame{OpID: resp.ID, CodecID: c.ID(), Payload: payload})
}

// ReadResponse reads one framed response, decoding it with the codec the
// frame header names.
func ReadResponse(f *Framer) (*Response, error) {
	fr, err := f.Read()
	if err != nil {
		return nil, err
	}
	c, err := ByID(fr.CodecID)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := c.Unmarshal(fr.Payload, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	return &resp, nil
}
