package wsclient

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Envelope is a parsed inbound message.
//
// Only objects with a numeric "code" field are envelopes. Well known fields
// are lifted into typed members; everything else stays available in Fields.
type Envelope struct {
	// Code is the server response code, 0 means success
	Code int
	// Message is the optional human readable status text
	Message   string
	RequestID string
	BizCode   string
	// Data holds the "data" field. When Code is 0 and the server sent the
	// data as a JSON encoded string, Data is the decoded value instead.
	Data any
	// Channel is the value of the configured dispatch key field, empty when
	// the field is absent.
	Channel string
	// Fields contains every top-level field of the object
	Fields map[string]any
	// Raw is the text the envelope was parsed from
	Raw string
}

// OK reports whether the server answered with code 0.
func (e *Envelope) OK() bool {
	return e.Code == 0
}

// DecodeData converts Data into v, which must be a pointer.
//
// Example:
//
//	var profile struct{ Name string `json:"name"` }
//	if err := msg.DecodeData(&profile); err != nil {
//	    return err
//	}
func (e *Envelope) DecodeData(v any) error {
	if s, ok := e.Data.(string); ok {
		return json.Unmarshal([]byte(s), v)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Request is the outbound envelope sent for login, logout and business calls.
type Request struct {
	RequestID string `json:"requestId"`
	UserAgent string `json:"userAgent"`
	BizCode   string `json:"bizCode"`
	Data      any    `json:"data,omitempty"`
}

// Field returns the value of the named JSON field, used to find the channel a
// response to this request will be dispatched on.
func (r *Request) Field(name string) (string, bool) {
	switch name {
	case "requestId":
		return r.RequestID, true
	case "bizCode":
		return r.BizCode, true
	case "userAgent":
		return r.UserAgent, true
	}
	return "", false
}

// ParseErrorKind classifies why text could not be turned into an Envelope.
type ParseErrorKind int

const (
	// ParseInvalidJSON means the text is not a JSON object
	ParseInvalidJSON ParseErrorKind = iota
	// ParseMissingCode means the object has no integer "code" field
	ParseMissingCode
)

// ParseError is returned by ParseEnvelope.
type ParseError struct {
	Kind ParseErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Kind == ParseMissingCode {
		return ErrMissingCode
	}
	return fmt.Sprintf("%s: %v", ErrParseError, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseEnvelope parses an inbound text message. dispatchKey names the field
// whose value becomes Envelope.Channel.
func ParseEnvelope(text, dispatchKey string) (*Envelope, error) {
	fields, err := decodeObject(text)
	if err != nil {
		return nil, &ParseError{Kind: ParseInvalidJSON, Err: err}
	}

	code, ok := intField(fields["code"])
	if !ok {
		return nil, &ParseError{Kind: ParseMissingCode}
	}

	env := &Envelope{
		Code:   code,
		Data:   fields["data"],
		Fields: fields,
		Raw:    text,
	}
	env.Message, _ = fields["message"].(string)
	env.RequestID, _ = fields["requestId"].(string)
	env.BizCode, _ = fields["bizCode"].(string)

	if code == 0 {
		if s, ok := env.Data.(string); ok {
			// data that is not JSON stays a plain string
			if nested, err := decodeValue(s); err == nil {
				env.Data = nested
				fields["data"] = nested
			}
		}
	}

	if v, ok := fields[dispatchKey]; ok {
		env.Channel = channelValue(v)
	}
	return env, nil
}

func decodeObject(text string) (map[string]any, error) {
	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("%s: trailing data", ErrInvalidMessageFormat)
	}
	if fields == nil {
		return nil, fmt.Errorf("%s: not an object", ErrInvalidMessageFormat)
	}
	return fields, nil
}

func decodeValue(text string) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("%s: trailing data", ErrInvalidMessageFormat)
	}
	return v, nil
}

func intField(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

func channelValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
