package state

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Install record fields written by the installer and by the entrypoint
const (
	FieldProductInstanceID = "ProductInstanceID"
	FieldProductVersion    = "ProductVersion"
	FieldProductName       = "ProductName"
)

// ParseError reports a malformed line in the install record
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// FormatError reports a key or value that cannot be encoded
type FormatError struct {
	Key    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("config key %q: %s", e.Key, e.Reason)
}

// Record is the flat key=value install record kept on the persistent volume.
//
// Grammar, one pair per line:
//
//	line  = key "=" value "\n"
//	key   = 1*char
//	value = *char
//	char  = any byte except "=", "\n" and "\r"
//
// There is no escaping and there are no comments. Insertion order is
// preserved on encode.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord returns an empty record
func NewRecord() *Record {
	return &Record{values: make(map[string]string)}
}

// Parse reads a record. Any line that does not contain exactly one "=" or
// has an empty key yields a *ParseError.
func Parse(r io.Reader) (*Record, error) {
	rec := NewRecord()
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "empty line"}
		}

		if n := strings.Count(line, "="); n != 1 {
			return nil, &ParseError{
				Line:   lineNo,
				Text:   line,
				Reason: fmt.Sprintf("expected exactly one '=', found %d", n),
			}
		}

		key, value, _ := strings.Cut(line, "=")
		if key == "" {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "empty key"}
		}
		rec.Set(key, value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return rec, nil
}

// Get returns the value for key
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value for key, or "" when absent
func (r *Record) Value(key string) string {
	return r.values[key]
}

// Set adds or replaces key. Existing keys keep their position.
func (r *Record) Set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the record keys in insertion order
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of pairs in the record
func (r *Record) Len() int {
	return len(r.keys)
}

// IsNewInstall reports whether there is no prior install, i.e. the
// ProductInstanceID field is absent or empty.
func (r *Record) IsNewInstall() bool {
	return r.Value(FieldProductInstanceID) == ""
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := NewRecord()
	for _, k := range r.keys {
		c.Set(k, r.values[k])
	}
	return c
}

// Encode writes the record as key=value lines in insertion order
func (r *Record) Encode(w io.Writer) error {
	var buf bytes.Buffer
	for _, k := range r.keys {
		v := r.values[k]
		if err := validate(k, v); err != nil {
			return err
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func validate(key, value string) error {
	if key == "" {
		return &FormatError{Key: key, Reason: "empty key"}
	}
	if strings.ContainsAny(key, "=\n\r") {
		return &FormatError{Key: key, Reason: "key contains '=' or a line break"}
	}
	if strings.ContainsAny(value, "=\n\r") {
		return &FormatError{Key: key, Reason: "value contains '=' or a line break"}
	}
	return nil
}
