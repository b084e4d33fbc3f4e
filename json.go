// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gorpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// JSON-RPC bridge names and error codes
const (
	BridgeServiceName = "PubSub"
	BridgeCallMethod  = BridgeServiceName + ".Call"

	ErrCodeRemote  json2.ErrorCode = -32002
	ErrCodeTimeout json2.ErrorCode = -32001
)

// BridgeCallArgs are the JSON-RPC params of PubSub.Call.
type BridgeCallArgs struct {
	Topic     string                 `json:"topic"`
	Params    map[string]interface{} `json:"params,omitempty"`
	TimeoutMs int64                  `json:"timeout_ms,omitempty"`
}

// BridgeCallReply is the JSON-RPC result of PubSub.Call.
type BridgeCallReply struct {
	Result interface{} `json:"result"`
}

// bridgeService exposes Call to JSON-RPC 2.0 clients over HTTP.
type bridgeService struct {
	ps   PubSub
	opts []CallOption
}

func (s *bridgeService) Call(r *http.Request, args *BridgeCallArgs, reply *BridgeCallReply) error {
	if args.Topic == "" {
		return &json2.Error{Code: json2.E_INVALID_REQ, Message: "topic is required"}
	}
	opts := append(s.opts[:len(s.opts):len(s.opts)],
		WithTimeout(time.Duration(args.TimeoutMs)*time.Millisecond))

	result, err := Call[map[string]interface{}, interface{}](r.Context(), s.ps, args.Topic, args.Params, opts...)
	if err != nil {
		var te *TimeoutError
		var re *RemoteError
		switch {
		case errors.As(err, &te):
			return &json2.Error{
				Code:    ErrCodeTimeout,
				Message: err.Error(),
				Data:    map[string]interface{}{"topic": te.Topic, "id": EncodeID(te.ID)},
			}
		case errors.As(err, &re):
			return &json2.Error{Code: ErrCodeRemote, Message: re.Message, Data: re.Data}
		}
		return err
	}
	reply.Result = result
	return nil
}

// NewHTTPBridge returns an HTTP handler serving PubSub.Call over JSON-RPC
// 2.0. opts apply to every bridged call; a request's timeout_ms overrides
// the timeout.
func NewHTTPBridge(ps PubSub, opts ...CallOption) (http.Handler, error) {
	s := gorpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&bridgeService{ps: ps, opts: opts}, BridgeServiceName); err != nil {
		return nil, fmt.Errorf("register bridge service: %w", err)
	}
	return s, nil
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// CallHTTP calls topic through the JSON-RPC bridge at uri and decodes the
// result into reply. Bridge failures come back as *RemoteError or
// *TimeoutError. A zero timeout uses the bridge's default. The request is
// sent once; retrying is up to the caller.
func CallHTTP(ctx context.Context, client *http.Client, uri, topic string, params map[string]interface{}, timeout time.Duration, reply interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json2.EncodeClientRequest(BridgeCallMethod, &BridgeCallArgs{
		Topic:     topic,
		Params:    params,
		TimeoutMs: timeout.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	var out struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json2.DecodeClientResponse(resp.Body, &out); err != nil {
		var jerr *json2.Error
		if errors.As(err, &jerr) {
			switch jerr.Code {
			case ErrCodeTimeout:
				return &TimeoutError{Topic: topic, Params: params, Options: CallOptions{Timeout: timeout}}
			case ErrCodeRemote:
				return &RemoteError{Topic: topic, Message: jerr.Message, Data: jerr.Data}
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to decode client response: %w", err)
	}
	if reply == nil || len(out.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result, reply); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
