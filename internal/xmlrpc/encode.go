// Package xmlrpc encodes XML-RPC method calls and decodes method responses.
//
// Go values map to XML-RPC types as follows:
//
//	int, int8..int64, uint8..uint32  <int>      (must fit in 32 bits)
//	bool                             <boolean>
//	string                           <string>
//	float32, float64                 <double>
//	time.Time                        <dateTime.iso8601>
//	[]byte                           <base64>
//	slices and arrays                <array>
//	map[string]T, structs            <struct>
//
// Struct fields are named by an `xmlrpc:"name"` tag, or by the field name.
// A tag of "-" skips the field; ",omitempty" skips zero values.
//
// Decoding yields int, bool, string, float64, time.Time, []byte, []any,
// map[string]any, or nil.
package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

const iso8601 = "20060102T15:04:05"

var timeType = reflect.TypeOf(time.Time{})

// EncodeCall serializes a <methodCall> envelope.
func EncodeCall(method string, params ...any) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("xmlrpc: empty method name")
	}

	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	xml.EscapeText(&b, []byte(method))
	b.WriteString("</methodName><params>")
	for i, p := range params {
		b.WriteString("<param>")
		if err := writeValue(&b, reflect.ValueOf(p)); err != nil {
			return nil, fmt.Errorf("xmlrpc: param %d: %w", i, err)
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>\n")
	return b.Bytes(), nil
}

// EncodeResponse serializes a successful <methodResponse> carrying result.
func EncodeResponse(result any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse><params><param>")
	if err := writeValue(&b, reflect.ValueOf(result)); err != nil {
		return nil, fmt.Errorf("xmlrpc: result: %w", err)
	}
	b.WriteString("</param></params></methodResponse>\n")
	return b.Bytes(), nil
}

// EncodeFault serializes a <methodResponse> carrying a fault.
func EncodeFault(f *Fault) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse><fault><value><struct>")
	fmt.Fprintf(&b, "<member><name>faultCode</name><value><int>%d</int></value></member>", f.Code)
	b.WriteString("<member><name>faultString</name><value><string>")
	xml.EscapeText(&b, []byte(f.Message))
	b.WriteString("</string></value></member>")
	b.WriteString("</struct></value></fault></methodResponse>\n")
	return b.Bytes()
}

func writeValue(b *bytes.Buffer, v reflect.Value) error {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return fmt.Errorf("cannot encode nil")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return fmt.Errorf("cannot encode nil")
	}

	b.WriteString("<value>")
	switch v.Kind() {
	case reflect.Bool:
		b.WriteString("<boolean>")
		if v.Bool() {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		b.WriteString("</boolean>")

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("integer %d exceeds XML-RPC limits", n)
		}
		fmt.Fprintf(b, "<int>%d</int>", n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := v.Uint()
		if n > math.MaxInt32 {
			return fmt.Errorf("integer %d exceeds XML-RPC limits", n)
		}
		fmt.Fprintf(b, "<int>%d</int>", n)

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot encode %v", f)
		}
		b.WriteString("<double>")
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		b.WriteString("</double>")

	case reflect.String:
		b.WriteString("<string>")
		xml.EscapeText(b, []byte(v.String()))
		b.WriteString("</string>")

	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b.WriteString("<base64>")
			b.WriteString(base64.StdEncoding.EncodeToString(byteSlice(v)))
			b.WriteString("</base64>")
			break
		}
		b.WriteString("<array><data>")
		for i := 0; i < v.Len(); i++ {
			if err := writeValue(b, v.Index(i)); err != nil {
				return fmt.Errorf("array element %d: %w", i, err)
			}
		}
		b.WriteString("</data></array>")

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("cannot encode map with %s keys", v.Type().Key())
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		b.WriteString("<struct>")
		for _, k := range keys {
			mv := v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key()))
			if err := writeMember(b, k, mv); err != nil {
				return err
			}
		}
		b.WriteString("</struct>")

	case reflect.Struct:
		if v.Type() == timeType {
			b.WriteString("<dateTime.iso8601>")
			b.WriteString(v.Interface().(time.Time).Format(iso8601))
			b.WriteString("</dateTime.iso8601>")
			break
		}
		b.WriteString("<struct>")
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, omitEmpty, skip := fieldName(field)
			if skip {
				continue
			}
			fv := v.Field(i)
			if omitEmpty && fv.IsZero() {
				continue
			}
			if err := writeMember(b, name, fv); err != nil {
				return err
			}
		}
		b.WriteString("</struct>")

	default:
		return fmt.Errorf("cannot encode %s", v.Type())
	}
	b.WriteString("</value>")
	return nil
}

func writeMember(b *bytes.Buffer, name string, v reflect.Value) error {
	b.WriteString("<member><name>")
	xml.EscapeText(b, []byte(name))
	b.WriteString("</name>")
	if err := writeValue(b, v); err != nil {
		return fmt.Errorf("member %q: %w", name, err)
	}
	b.WriteString("</member>")
	return nil
}

func fieldName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("xmlrpc")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, opts == "omitempty", false
}

func byteSlice(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	out := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(out), v)
	return out
}
