package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Encoding selects how a request is put on the wire.
type Encoding string

const (
	EncodingQuery Encoding = "query"
	EncodingJSON  Encoding = "json"
)

// MethodRequest is the custom verb JSON action endpoints are served on by default.
const MethodRequest = "REQUEST"

// Endpoint describes one server route that accepts action requests.
type Endpoint struct {
	Path     string
	Method   string
	Encoding Encoding

	// Query parameter names, defaulting to id, t, v and action. Setting TypeParam or
	// ActionParam to "-" leaves that parameter out.
	IDParam     string
	TypeParam   string
	ValueParam  string
	ActionParam string
}

// FieldUpdateEndpoint is the query encoded field edit route.
func FieldUpdateEndpoint() Endpoint {
	return Endpoint{Path: "field_update", Method: http.MethodGet, Encoding: EncodingQuery}
}

// AppActionEndpoint is the JSON encoded button action route.
func AppActionEndpoint() Endpoint {
	return Endpoint{Path: "app_action", Method: MethodRequest, Encoding: EncodingJSON}
}

// NotifyEndpoint is the query route that carries the field id in "t" and the value in "v".
func NotifyEndpoint() Endpoint {
	return Endpoint{Path: "notify", Method: http.MethodGet, Encoding: EncodingQuery, IDParam: "t", TypeParam: "-", ValueParam: "v", ActionParam: "-"}
}

func (e Endpoint) withDefaults() Endpoint {
	if e.Encoding == "" {
		e.Encoding = EncodingQuery
	}
	if e.Method == "" {
		if e.Encoding == EncodingJSON {
			e.Method = MethodRequest
		} else {
			e.Method = http.MethodGet
		}
	}
	if e.IDParam == "" {
		e.IDParam = "id"
	}
	if e.TypeParam == "" {
		e.TypeParam = "t"
	}
	if e.ValueParam == "" {
		e.ValueParam = "v"
	}
	if e.ActionParam == "" {
		e.ActionParam = "action"
	}
	return e
}

// Kind discriminates field edits from actions.
type Kind int

const (
	KindFieldEdit Kind = iota
	KindAction
)

// Request describes a user initiated interaction with the origin field.
type Request struct {
	Kind Kind
	// FieldType is the conversion hint for a field edit (float, int, str, bool, sel).
	FieldType string
	// Action names the server method for an action.
	Action string
	Value  *string
}

// FieldEdit reports that the origin field's value changed.
func FieldEdit(fieldType, value string) Request {
	return Request{Kind: KindFieldEdit, FieldType: fieldType, Value: &value}
}

// Action reports a button style action.
func Action(name string) Request {
	return Request{Kind: KindAction, Action: name}
}

type jsonBody struct {
	ID     string  `json:"id"`
	FType  string  `json:"ftype,omitempty"`
	Val    *string `json:"val,omitempty"`
	Action string  `json:"action,omitempty"`
}

// build encodes req for origin against the endpoint resolved from base.
func (e Endpoint) build(base *url.URL, origin string, req Request) (string, string, io.Reader, error) {
	e = e.withDefaults()
	target := base.JoinPath(e.Path)

	switch e.Encoding {
	case EncodingQuery:
		q := target.Query()
		q.Set(e.IDParam, origin)
		if req.FieldType != "" && e.TypeParam != "-" {
			q.Set(e.TypeParam, req.FieldType)
		}
		if req.Action != "" && e.ActionParam != "-" {
			q.Set(e.ActionParam, req.Action)
		}
		switch {
		case req.Value != nil:
			q.Set(e.ValueParam, *req.Value)
		case req.Kind == KindAction:
			q.Set(e.ValueParam, "0")
		}
		target.RawQuery = q.Encode()
		return e.Method, target.String(), nil, nil
	case EncodingJSON:
		raw, err := json.Marshal(jsonBody{ID: origin, FType: req.FieldType, Val: req.Value, Action: req.Action})
		if err != nil {
			return "", "", nil, fmt.Errorf("failed to encode request: %w", err)
		}
		return e.Method, target.String(), bytes.NewReader(raw), nil
	default:
		return "", "", nil, fmt.Errorf("unknown encoding %q", e.Encoding)
	}
}
