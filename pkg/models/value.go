package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the variants of Value
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindText
	KindNumber
	KindBool
)

// Value is one cell of a dataset. The zero Value is Absent, which is distinct
// from an empty string or zero.
type Value struct {
	kind ValueKind
	text string
	num  float64
	flag bool
}

// Absent returns the explicit "undefined" value.
func Absent() Value { return Value{} }

// Text wraps a string cell.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number wraps a numeric cell. NaN and infinities become Absent.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Absent()
	}
	return Value{kind: KindNumber, num: f}
}

// Bool wraps a flag cell.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Parse types raw cell text: empty is Absent, numeric text (thousands
// separators allowed) is Number, anything else stays Text.
func Parse(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Absent()
	}
	if f, ok := parseFloat(s); ok {
		return Number(f)
	}
	return Text(s)
}

// ParsePercent turns "42.5%" into 0.425. Numbers are assumed to already be
// ratios and pass through; malformed text is Absent.
func ParsePercent(v Value) Value {
	switch v.kind {
	case KindNumber:
		return v
	case KindText:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.text), "%"))
		f, ok := parseFloat(s)
		if !ok {
			return Absent()
		}
		return Number(f / 100)
	}
	return Absent()
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsAbsent() bool  { return v.kind == KindAbsent }

// Float returns the numeric reading of the value, parsing text when needed.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindText:
		return parseFloat(strings.TrimSpace(v.text))
	}
	return 0, false
}

// String renders the value for display and text sinks. Absent renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	}
	return ""
}

// Interface returns the Go value sinks should write; nil for Absent.
func (v Value) Interface() any {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return v.num
	case KindBool:
		return v.flag
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Absent()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode value %s: %w", data, err)
		}
		*v = Number(f)
	}
	return nil
}
