// Package config loads the client side settings: where the server is, which routes carry
// action requests and how the live channel connects.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/astromechza/fieldsync/pkg/action"
	"github.com/astromechza/fieldsync/pkg/live"
)

type Config struct {
	BaseURL string `yaml:"base_url"`
	PageID  string `yaml:"page_id"`
	// RequestTimeout bounds each action request. Zero never times out.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// FieldEndpoint and ActionEndpoint name the entries of Endpoints used for field edits and
	// actions.
	FieldEndpoint  string              `yaml:"field_endpoint"`
	ActionEndpoint string              `yaml:"action_endpoint"`
	Endpoints      map[string]Endpoint `yaml:"endpoints"`
	Live           Live                `yaml:"live"`
}

type Endpoint struct {
	Path        string `yaml:"path"`
	Method      string `yaml:"method,omitempty"`
	Encoding    string `yaml:"encoding,omitempty"`
	IDParam     string `yaml:"id_param,omitempty"`
	TypeParam   string `yaml:"type_param,omitempty"`
	ValueParam  string `yaml:"value_param,omitempty"`
	ActionParam string `yaml:"action_param,omitempty"`
}

type Live struct {
	Path      string    `yaml:"path"`
	PageParam string    `yaml:"page_param"`
	Transport string    `yaml:"transport"`
	Reconnect Reconnect `yaml:"reconnect"`
}

type Reconnect struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

const (
	EndpointFieldUpdate = "field_update"
	EndpointAppAction   = "app_action"
	EndpointNotify      = "notify"
)

func endpointFrom(e action.Endpoint) Endpoint {
	return Endpoint{
		Path:        e.Path,
		Method:      e.Method,
		Encoding:    string(e.Encoding),
		IDParam:     e.IDParam,
		TypeParam:   e.TypeParam,
		ValueParam:  e.ValueParam,
		ActionParam: e.ActionParam,
	}
}

// Default returns the settings that match the reference server.
func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080",
		PageID:         "index",
		FieldEndpoint:  EndpointFieldUpdate,
		ActionEndpoint: EndpointAppAction,
		Endpoints: map[string]Endpoint{
			EndpointFieldUpdate: endpointFrom(action.FieldUpdateEndpoint()),
			EndpointAppAction:   endpointFrom(action.AppActionEndpoint()),
			EndpointNotify:      endpointFrom(action.NotifyEndpoint()),
		},
		Live: Live{
			Path:      "appupdates",
			PageParam: "pageid",
			Transport: string(live.TransportSSE),
			Reconnect: Reconnect{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
			},
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes yaml over the defaults and validates the result. Unknown keys are rejected.
// Endpoints named in the document replace the default of the same name entirely.
func Parse(raw []byte) (*Config, error) {
	c := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url %q: scheme must be http or https", c.BaseURL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("invalid request_timeout %s", c.RequestTimeout)
	}
	for _, name := range []string{c.FieldEndpoint, c.ActionEndpoint} {
		if _, ok := c.Endpoints[name]; !ok {
			return fmt.Errorf("endpoint %q is not defined", name)
		}
	}
	for name, e := range c.Endpoints {
		switch action.Encoding(e.Encoding) {
		case "", action.EncodingQuery, action.EncodingJSON:
		default:
			return fmt.Errorf("endpoint %q: unknown encoding %q", name, e.Encoding)
		}
	}
	switch live.Transport(c.Live.Transport) {
	case live.TransportSSE, live.TransportWebsocket:
	default:
		return fmt.Errorf("unknown live transport %q", c.Live.Transport)
	}
	if c.Live.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("invalid live.reconnect.max_attempts %d", c.Live.Reconnect.MaxAttempts)
	}
	return nil
}

func (e Endpoint) Action() action.Endpoint {
	return action.Endpoint{
		Path:        e.Path,
		Method:      e.Method,
		Encoding:    action.Encoding(e.Encoding),
		IDParam:     e.IDParam,
		TypeParam:   e.TypeParam,
		ValueParam:  e.ValueParam,
		ActionParam: e.ActionParam,
	}
}

func (r Reconnect) Policy() live.ReconnectPolicy {
	return live.ReconnectPolicy{
		Enabled:         r.Enabled,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxAttempts:     r.MaxAttempts,
	}
}

// ActionOptions configures an action.Client.
func (c *Config) ActionOptions() []action.Option {
	return []action.Option{
		action.WithTimeout(c.RequestTimeout),
		action.WithFieldEndpoint(c.Endpoints[c.FieldEndpoint].Action()),
		action.WithActionEndpoint(c.Endpoints[c.ActionEndpoint].Action()),
	}
}

// LiveOptions configures a live.Client.
func (c *Config) LiveOptions() []live.Option {
	return []live.Option{
		live.WithPath(c.Live.Path),
		live.WithPageParam(c.Live.PageParam),
		live.WithTransport(live.Transport(c.Live.Transport)),
		live.WithReconnect(c.Live.Reconnect.Policy()),
	}
}

// Write encodes c as yaml.
func (c *Config) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
