package flatfile

import (
	"fmt"
	"strings"

	"github.com/compozy/recordstore/engine/store"
)

const (
	fieldSep     = '\t'
	recordSep    = '\n'
	escapeChar   = '\\'
	fieldsPerRow = 3
)

var fieldEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`)

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

// encodeRecord renders rec as one line including the trailing newline.
func encodeRecord(rec *store.Record) string {
	var b strings.Builder
	b.Grow(len(rec.Email) + len(rec.Name) + len(rec.Credential) + 3)
	b.WriteString(escapeField(rec.Email))
	b.WriteByte(fieldSep)
	b.WriteString(escapeField(rec.Name))
	b.WriteByte(fieldSep)
	b.WriteString(escapeField(rec.Credential))
	b.WriteByte(recordSep)
	return b.String()
}

// decodeLine parses a line without its trailing newline.
func decodeLine(line string) (*store.Record, error) {
	fields := make([]string, 0, fieldsPerRow)
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case escapeChar:
			if i+1 >= len(line) {
				return nil, fmt.Errorf("dangling escape at offset %d", i)
			}
			i++
			switch line[i] {
			case 't':
				cur.WriteByte('\t')
			case 'n':
				cur.WriteByte('\n')
			case escapeChar:
				cur.WriteByte(escapeChar)
			default:
				return nil, fmt.Errorf("unknown escape %q at offset %d", line[i-1:i+1], i-1)
			}
		case fieldSep:
			fields = append(fields, cur.String())
			cur.Reset()
		case recordSep:
			return nil, fmt.Errorf("raw newline at offset %d", i)
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	if len(fields) != fieldsPerRow {
		return nil, fmt.Errorf("expected %d fields, got %d", fieldsPerRow, len(fields))
	}
	return &store.Record{Email: fields[0], Name: fields[1], Credential: fields[2]}, nil
}
