// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is a MessagePack codec. Struct fields use their json tags
// unless a msgpack tag is present, and untyped numbers decode loosely
// (int64, uint64, float64).
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// CBORCodec is a CBOR codec. Untyped maps decode as map[string]interface{}.
type CBORCodec struct{}

func (CBORCodec) Encode(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBORCodec) Decode(data []byte, v interface{}) error {
	return cborDecMode.Unmarshal(data, v)
}

// JSONCodec is a JSON-based codec. Identifiers travel as base64 strings.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = MsgpackCodec{}
