package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

var timeLayouts = []string{
	iso8601,
	"2006-01-02T15:04:05",
	"20060102T15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"20060102T150405",
}

// DecodeResponse parses a <methodResponse> body. A fault envelope is
// returned as *Fault; anything that is not a well-formed envelope is
// returned as *DecodeError.
func DecodeResponse(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodeError{Reason: "empty body"}
	}

	p := newParser(data)
	result, fault, err := p.methodResponse()
	if err != nil {
		return nil, &DecodeError{Reason: "invalid methodResponse", Err: err}
	}
	if fault != nil {
		return nil, fault
	}
	return result, nil
}

// DecodeCall parses a <methodCall> body into its method name and params.
func DecodeCall(data []byte) (string, []any, error) {
	p := newParser(data)
	method, params, err := p.methodCall()
	if err != nil {
		return "", nil, &DecodeError{Reason: "invalid methodCall", Err: err}
	}
	return method, params, nil
}

type parser struct {
	d *xml.Decoder
}

func newParser(data []byte) *parser {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	return &parser{d: d}
}

func (p *parser) methodResponse() (any, *Fault, error) {
	if err := p.expect("methodResponse"); err != nil {
		return nil, nil, err
	}

	s, err := p.start()
	if err != nil {
		return nil, nil, err
	}

	var result any
	var fault *Fault
	switch s.Name.Local {
	case "params":
		s, ok, err := p.startOrEnd("params")
		if err != nil {
			return nil, nil, err
		}
		if ok {
			if s.Name.Local != "param" {
				return nil, nil, fmt.Errorf("expected <param>, got <%s>", s.Name.Local)
			}
			if result, err = p.param(); err != nil {
				return nil, nil, err
			}
			if err := p.end("params"); err != nil {
				return nil, nil, err
			}
		}
	case "fault":
		if err := p.expect("value"); err != nil {
			return nil, nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, nil, err
		}
		if fault, err = toFault(v); err != nil {
			return nil, nil, err
		}
		if err := p.end("fault"); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("expected <params> or <fault>, got <%s>", s.Name.Local)
	}

	if err := p.end("methodResponse"); err != nil {
		return nil, nil, err
	}
	return result, fault, nil
}

func (p *parser) methodCall() (string, []any, error) {
	if err := p.expect("methodCall"); err != nil {
		return "", nil, err
	}
	if err := p.expect("methodName"); err != nil {
		return "", nil, err
	}
	method, err := p.text("methodName")
	if err != nil {
		return "", nil, err
	}
	method = strings.TrimSpace(method)

	params := []any{}
	s, ok, err := p.startOrEnd("methodCall")
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return method, params, nil
	}
	if s.Name.Local != "params" {
		return "", nil, fmt.Errorf("expected <params>, got <%s>", s.Name.Local)
	}
	for {
		s, ok, err := p.startOrEnd("params")
		if err != nil {
			return "", nil, err
		}
		if !ok {
			break
		}
		if s.Name.Local != "param" {
			return "", nil, fmt.Errorf("expected <param>, got <%s>", s.Name.Local)
		}
		v, err := p.param()
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
	}
	if err := p.end("methodCall"); err != nil {
		return "", nil, err
	}
	return method, params, nil
}

// param decodes the body of a <param> element whose start was consumed.
func (p *parser) param() (any, error) {
	if err := p.expect("value"); err != nil {
		return nil, err
	}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return v, p.end("param")
}

// value decodes the body of a <value> element whose start was consumed.
// A value without a type element is a string.
func (p *parser) value() (any, error) {
	var text []byte
	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text = append(text, t...)
		case xml.EndElement:
			return string(text), nil
		case xml.StartElement:
			if len(bytes.TrimSpace(text)) != 0 {
				return nil, errors.New("mixed content in <value>")
			}
			v, err := p.typed(t)
			if err != nil {
				return nil, err
			}
			return v, p.end("value")
		}
	}
}

func (p *parser) typed(s xml.StartElement) (any, error) {
	name := s.Name.Local
	switch name {
	case "array":
		return p.array()
	case "struct":
		return p.structure()
	case "nil":
		return nil, p.end("nil")
	}

	text, err := p.text(name)
	if err != nil {
		return nil, err
	}

	switch name {
	case "int", "i4", "i8":
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid <%s> %q", name, text)
		}
		return int(n), nil
	case "boolean":
		switch strings.TrimSpace(text) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid <boolean> %q", text)
	case "string":
		return text, nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid <double> %q", text)
		}
		return f, nil
	case "dateTime.iso8601":
		return parseTime(strings.TrimSpace(text))
	case "base64":
		clean := strings.Join(strings.Fields(text), "")
		b, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("invalid <base64>: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown value type <%s>", name)
}

func (p *parser) array() (any, error) {
	if err := p.expect("data"); err != nil {
		return nil, err
	}
	items := []any{}
	for {
		s, ok, err := p.startOrEnd("data")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if s.Name.Local != "value" {
			return nil, fmt.Errorf("expected <value> in <data>, got <%s>", s.Name.Local)
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, p.end("array")
}

func (p *parser) structure() (any, error) {
	members := map[string]any{}
	for {
		s, ok, err := p.startOrEnd("struct")
		if err != nil {
			return nil, err
		}
		if !ok {
			return members, nil
		}
		if s.Name.Local != "member" {
			return nil, fmt.Errorf("expected <member> in <struct>, got <%s>", s.Name.Local)
		}
		if err := p.expect("name"); err != nil {
			return nil, err
		}
		name, err := p.text("name")
		if err != nil {
			return nil, err
		}
		if err := p.expect("value"); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		members[name] = v
		if err := p.end("member"); err != nil {
			return nil, err
		}
	}
}

// token returns the next element or character data token.
func (p *parser) token() (xml.Token, error) {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement, xml.EndElement:
			return t, nil
		case xml.CharData:
			return t.Copy(), nil
		}
	}
}

// startOrEnd returns the next start element, or ok=false when the end of
// the enclosing element parent is reached.
func (p *parser) startOrEnd(parent string) (xml.StartElement, bool, error) {
	for {
		tok, err := p.token()
		if err != nil {
			return xml.StartElement{}, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, nil
		case xml.EndElement:
			if t.Name.Local != parent {
				return xml.StartElement{}, false, fmt.Errorf("unexpected </%s> in <%s>", t.Name.Local, parent)
			}
			return xml.StartElement{}, false, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return xml.StartElement{}, false, fmt.Errorf("unexpected text in <%s>", parent)
			}
		}
	}
}

func (p *parser) start() (xml.StartElement, error) {
	for {
		tok, err := p.token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, fmt.Errorf("unexpected </%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return xml.StartElement{}, errors.New("unexpected text")
			}
		}
	}
}

func (p *parser) expect(name string) error {
	s, err := p.start()
	if err != nil {
		return err
	}
	if s.Name.Local != name {
		return fmt.Errorf("expected <%s>, got <%s>", name, s.Name.Local)
	}
	return nil
}

func (p *parser) end(name string) error {
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local != name {
				return fmt.Errorf("expected </%s>, got </%s>", name, t.Name.Local)
			}
			return nil
		case xml.StartElement:
			return fmt.Errorf("unexpected <%s> before </%s>", t.Name.Local, name)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("unexpected text before </%s>", name)
			}
		}
	}
}

// text collects character data up to the end of element name.
func (p *parser) text(name string) (string, error) {
	var text []byte
	for {
		tok, err := p.token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text = append(text, t...)
		case xml.EndElement:
			if t.Name.Local != name {
				return "", fmt.Errorf("expected </%s>, got </%s>", name, t.Name.Local)
			}
			return string(text), nil
		case xml.StartElement:
			return "", fmt.Errorf("unexpected <%s> in <%s>", t.Name.Local, name)
		}
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid <dateTime.iso8601> %q", s)
}

func toFault(v any) (*Fault, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("fault value is not a struct")
	}
	f := &Fault{}
	switch code := m["faultCode"].(type) {
	case int:
		f.Code = code
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return nil, fmt.Errorf("invalid faultCode %q", code)
		}
		f.Code = n
	default:
		return nil, errors.New("fault struct has no integer faultCode")
	}
	msg, ok := m["faultString"].(string)
	if !ok {
		return nil, errors.New("fault struct has no faultString")
	}
	f.Message = msg
	return f, nil
}
