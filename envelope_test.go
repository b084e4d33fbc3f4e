// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse_ErrorWinsOverResult(t *testing.T) {
	data, err := defaultCodec.Encode(map[string]interface{}{
		"result": map[string]interface{}{"c": 1},
		"error":  map[string]interface{}{"message": "both present"},
	})
	require.NoError(t, err)

	_, err = decodeResponse[addResult](defaultCodec, "svc/add", data)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "both present", re.Message)
}

func TestDecodeResponse_EmptyErrorObjectFails(t *testing.T) {
	data, err := defaultCodec.Encode(map[string]interface{}{
		"result": map[string]interface{}{"c": 1},
		"error":  map[string]interface{}{},
	})
	require.NoError(t, err)

	res, err := decodeResponse[addResult](defaultCodec, "svc/add", data)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Empty(t, re.Message)
	assert.Zero(t, res)
}

func TestDecodeResponse_Garbage(t *testing.T) {
	_, err := decodeResponse[addResult](defaultCodec, "svc/add", []byte{0xc1})
	assert.Error(t, err)
}

func TestEncodeResponse_NilResult(t *testing.T) {
	data, err := encodeResponse(defaultCodec, nil, nil)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, defaultCodec.Decode(data, &out))
	result, ok := out["result"]
	require.True(t, ok, "result must be present")
	assert.Equal(t, map[string]interface{}{}, result)
	assert.NotContains(t, out, "error")
}

func TestEncodeResponse_Error(t *testing.T) {
	data, err := encodeResponse(defaultCodec, nil, NewHandlerError("bad", []interface{}{"x"}))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, defaultCodec.Decode(data, &out))
	assert.NotContains(t, out, "result")
	assert.Equal(t, map[string]interface{}{"message": "bad", "data": []interface{}{"x"}}, out["error"])
}

func TestDecodeRequest(t *testing.T) {
	id := []byte{1, 2, 3}
	data, err := encodeRequest(defaultCodec, id, addParams{A: 1, B: 2})
	require.NoError(t, err)

	req, err := decodeRequest[addParams](defaultCodec, data)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, addParams{A: 1, B: 2}, req.Params)

	_, err = decodeRequest[addParams](defaultCodec, nil)
	assert.ErrorIs(t, err, ErrMalformedRequest)

	noID, err := defaultCodec.Encode(map[string]interface{}{"params": map[string]interface{}{"a": 1}})
	require.NoError(t, err)
	_, err = decodeRequest[addParams](defaultCodec, noID)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestErrorObject(t *testing.T) {
	assert.Equal(t, wireError{Message: "plain"}, errorObject(errors.New("plain")))
	assert.Equal(t, wireError{Message: "m", Data: 1}, errorObject(NewHandlerError("m", 1)))
	assert.Equal(t, wireError{Message: "r", Data: "d"}, errorObject(&RemoteError{Message: "r", Data: "d"}))
	assert.Equal(t, wireError{Message: defaultErrorMessage}, errorObject(errors.New("")))
	assert.Equal(t, wireError{Message: defaultErrorMessage, Data: 2}, errorObject(NewHandlerError("", 2)))
}
