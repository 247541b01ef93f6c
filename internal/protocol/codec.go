package protocol

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	delimiter  = '|'
	escapeChar = '\\'
)

func escape(s string) string {
	if !strings.ContainsAny(s, "|\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == delimiter || c == escapeChar {
			b.WriteByte(escapeChar)
		}
		b.WriteByte(c)
	}
	return b.String()
}

func join(fields ...string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(delimiter)
		}
		b.WriteString(escape(f))
	}
	return b.String()
}

// split breaks line on unescaped delimiters and unescapes each field.
// Only \\ and \| are valid escape sequences.
func split(line string) ([]string, bool) {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case escapeChar:
			if i+1 >= len(line) {
				return nil, false
			}
			next := line[i+1]
			if next != delimiter && next != escapeChar {
				return nil, false
			}
			cur.WriteByte(next)
			i++
		case delimiter:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields, true
}

// fieldReader consumes decoded fields in order. The first failure sticks,
// so callers check ok once after reading everything.
type fieldReader struct {
	fields []string
	pos    int
	ok     bool
}

// open splits line and verifies the version tag, the exact field count and
// a non-empty origin. The returned reader is positioned after the origin.
func open(line string, count int) (*fieldReader, string, bool) {
	fields, ok := split(line)
	if !ok || len(fields) != count || fields[0] != Version || fields[1] == "" {
		return nil, "", false
	}
	return &fieldReader{fields: fields, pos: 2, ok: true}, fields[1], true
}

func (r *fieldReader) next() string {
	if r.pos >= len(r.fields) {
		r.ok = false
		return ""
	}
	f := r.fields[r.pos]
	r.pos++
	return f
}

func (r *fieldReader) text() string {
	return r.next()
}

func (r *fieldReader) required() string {
	s := r.next()
	if s == "" {
		r.ok = false
	}
	return s
}

func (r *fieldReader) id() uuid.UUID {
	id, err := uuid.Parse(r.next())
	if err != nil {
		r.ok = false
		return uuid.Nil
	}
	return id
}

// optionalID accepts an empty field as uuid.Nil.
func (r *fieldReader) optionalID() uuid.UUID {
	s := r.next()
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		r.ok = false
		return uuid.Nil
	}
	return id
}

func (r *fieldReader) millis() int64 {
	v, err := strconv.ParseInt(r.next(), 10, 64)
	if err != nil || v < 0 {
		r.ok = false
		return 0
	}
	return v
}

func (r *fieldReader) oneOf(allowed ...string) string {
	s := r.next()
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	r.ok = false
	return ""
}

func idString(id uuid.UUID) string {
	return id.String()
}

func optionalIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func millisString(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
