package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/astromechza/fieldsync/pkg/update"
)

type responseKind int

const (
	responseBatch responseKind = iota
	responseValue
	responseFailure
	responseNothing
)

type response struct {
	kind  responseKind
	batch update.Batch
	value update.Value
	fail  string
}

type envelope struct {
	OK      bool            `json:"OK"`
	Value   json.RawMessage `json:"value"`
	Updates json.RawMessage `json:"updates"`
	Fail    json.RawMessage `json:"fail"`
}

// decodeResponse classifies a 2xx action response body.
func decodeResponse(data []byte) (response, error) {
	if err := update.ValidateResponse(data); err != nil {
		return response{}, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		b, err := update.DecodeBatch(trimmed)
		if err != nil {
			return response{}, err
		}
		if b.NoOp {
			return response{kind: responseNothing}, nil
		}
		return response{kind: responseBatch, batch: b}, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return response{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.OK {
		msg := "request failed"
		if len(env.Fail) > 0 {
			if text, ok := update.ScalarText(env.Fail); ok {
				msg = text
			} else {
				msg = string(env.Fail)
			}
		}
		return response{kind: responseFailure, fail: msg}, nil
	}
	switch {
	case len(env.Value) > 0:
		text, _ := update.ScalarText(env.Value)
		return response{kind: responseValue, value: update.Scalar(text)}, nil
	case len(env.Updates) > 0:
		b, err := update.DecodeBatch(env.Updates)
		if err != nil {
			return response{}, err
		}
		if b.NoOp {
			return response{kind: responseNothing}, nil
		}
		return response{kind: responseBatch, batch: b}, nil
	default:
		return response{kind: responseNothing}, nil
	}
}
