package jobqueue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns wire maps into message bodies and back.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(m map[string]interface{}) ([]byte, error)
	Unmarshal(data []byte) (map[string]interface{}, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) Unmarshal(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	return m, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(m map[string]interface{}) ([]byte, error) {
	return msgpack.Marshal(m)
}

func (msgpackCodec) Unmarshal(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	return m, nil
}

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// NewCodec returns the codec registered under name (json or msgpack).
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec, nil
	case "msgpack":
		return MsgpackCodec, nil
	default:
		return nil, fmt.Errorf("unknown queue codec %q", name)
	}
}

func EncodeJob(c Codec, j *Job) ([]byte, error) {
	return c.Marshal(j.ToMap())
}

// DecodeJob returns ErrMalformedMessage for undecodable bodies.
func DecodeJob(c Codec, body []byte) (*Job, error) {
	m, err := c.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return JobFromMap(m)
}

func EncodeResult(c Codec, r *Result) ([]byte, error) {
	return c.Marshal(r.ToMap())
}

func DecodeResult(c Codec, body []byte) (*Result, error) {
	m, err := c.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return ResultFromMap(m)
}
