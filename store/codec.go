package store

import (
	"bytes"
	"encoding/gob"

	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/value"
)

// The SQL backend stores each thread's state and each future's
// continuation list as an opaque blob (spec §6: "state_blob",
// "continuations_blob"). gob is sufficient here since these blobs are
// never read by anything but this package itself -- unlike
// bytecode.Executable's wire format, which is a cross-process contract and
// therefore hand-rolled and deterministic (spec 4.1/§6).
func init() {
	gob.Register(value.FuncRef{})
	gob.Register([]value.Value{})
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register(int(0))
}

func encodeThreadState(ts *session.ThreadState) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeThreadState(blob []byte) (*session.ThreadState, error) {
	var ts session.ThreadState
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

func encodeProbe(p []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProbe(blob []byte) ([]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var p []string
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeContinuations(cs []session.Continuation) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeContinuations(blob []byte) ([]session.Continuation, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var cs []session.Continuation
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&cs); err != nil {
		return nil, err
	}
	return cs, nil
}

func encodeValue(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := v.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(blob []byte) (value.Value, error) {
	if len(blob) == 0 {
		return value.Nil(), nil
	}
	return value.Deserialize(bytes.NewReader(blob))
}
