package wire

import (
	stdjson "encoding/json"
	"fmt"
	"os"

	goccy "github.com/goccy/go-json"
	segjson "github.com/segmentio/encoding/json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes frame payloads. All implementations are
// compiled in and selected at runtime, by config name on the client side
// and by the frame header's codec id on the server side.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
	ID() CodecID
}

// CodecID is the one-byte codec tag carried in every frame header.
type CodecID uint8

const (
	CodecJSON CodecID = iota
	CodecJSONGoccy
	CodecJSONSegmentio
	CodecMsgpack
)

// New resolves a codec by config name. The empty string means stdlib JSON.
func New(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "json-goccy", "goccy":
		return goccyCodec{}, nil
	case "json-segmentio", "segmentio":
		return segmentioCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", name)
	}
}

// ByID resolves the codec named by a frame header.
func ByID(id CodecID) (Codec, error) {
	switch id {
	case CodecJSON:
		return jsonCodec{}, nil
	case CodecJSONGoccy:
		return goccyCodec{}, nil
	case CodecJSONSegmentio:
		return segmentioCodec{}, nil
	case CodecMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec id %d", id)
	}
}

// Default resolves the codec to use: HPORTAL_CODEC when set, otherwise
// the configured name, otherwise stdlib JSON. Unknown names fall through
// rather than erroring so a stale override can't stop the daemon.
func Default(name string) Codec {
	if env := os.Getenv("HPORTAL_CODEC"); env != "" {
		if c, err := New(env); err == nil {
			return c
		}
	}
	if c, err := New(name); err == nil {
		return c
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return stdjson.Marshal(v) }
func (jsonCodec) Unmarshal(d []byte, v any) error { return stdjson.Unmarshal(d, v) }
func (jsonCodec) Name() string { return "json" }
func (jsonCodec) ID() CodecID { return CodecJSON }

type goccyCodec struct{}

func (goccyCodec) Marshal(v any) ([]byte, error) { return goccy.Marshal(v) }
func (goccyCodec) Unmarshal(d []byte, v any) error { return goccy.Unmarshal(d, v) }
func (goccyCodec) Name() string { return "json-goccy" }
func (goccyCodec) ID() CodecID { return CodecJSONGoccy }

type segmentioCodec struct{}

func (segmentioCodec) Marshal(v any) ([]byte, error) { return segjson.Marshal(v) }
func (segmentioCodec) Unmarshal(d []byte, v any) error { return segjson.Unmarshal(d, v) }
func (segmentioCodec) Name() string { return "json-segmentio" }
func (segmentioCodec) ID() CodecID { return CodecJSONSegmentio }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(d []byte, v any) error { return msgpack.Unmarshal(d, v) }
func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) ID() CodecID { return CodecMsgpack }
