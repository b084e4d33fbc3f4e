// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"fmt"
	"reflect"
)

// Wire field names are shared by every codec through the json tags.

type request[P any] struct {
	ID     []byte `json:"id"`
	Params P      `json:"params"`
}

type wireError struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type resultEnvelope struct {
	Result interface{} `json:"result"`
}

type errorEnvelope struct {
	Error wireError `json:"error"`
}

type response[R any] struct {
	Result R          `json:"result"`
	Error  *wireError `json:"error"`
}

func encodeRequest[P any](c Codec, id []byte, params P) ([]byte, error) {
	data, err := c.Encode(request[P]{ID: id, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

func decodeRequest[P any](c Codec, data []byte) (*request[P], error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedRequest)
	}
	var req request[P]
	if err := c.Decode(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(req.ID) == 0 {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRequest)
	}
	return &req, nil
}

// encodeResponse wraps a handler outcome. A nil result is sent as an empty
// map so the result field is always present.
func encodeResponse(c Codec, result interface{}, herr error) ([]byte, error) {
	var v interface{}
	if herr != nil {
		v = errorEnvelope{Error: errorObject(herr)}
	} else {
		if isNil(result) {
			result = map[string]interface{}{}
		}
		v = resultEnvelope{Result: result}
	}
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

// decodeResponse unwraps a response. Any error object wins over a result.
func decodeResponse[R any](c Codec, topic string, data []byte) (R, error) {
	var zero R
	var resp response[R]
	if err := c.Decode(data, &resp); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	if e := resp.Error; e != nil {
		return zero, &RemoteError{Topic: topic, Message: e.Message, Data: e.Data}
	}
	return resp.Result, nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
