package datalogger

import (
	"fmt"
	"strings"
)

// Kind tags what a device line turned out to be.
type Kind int

const (
	KindMalformed Kind = iota
	KindHeader
	KindData
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindData:
		return "data"
	case KindStatus:
		return "status"
	default:
		return "malformed"
	}
}

// Schema selects which of the two firmware line conventions a deployment uses.
type Schema string

const (
	// SchemaHeader: the device announces its columns with a header line and
	// data rows are only accepted after it.
	SchemaHeader Schema = "header"
	// SchemaPrefixed: data rows carry a DATA, prefix and the file uses a fixed
	// column list.
	SchemaPrefixed Schema = "prefixed"
)

func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaHeader, "a", "legacy":
		return SchemaHeader, nil
	case SchemaPrefixed, "b":
		return SchemaPrefixed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSchema, s)
}

const (
	DefaultHeaderSentinel = "Time(ms)"
	DefaultDataPrefix     = "DATA,"
)

// PrefixedColumns is the fixed header written for SchemaPrefixed files.
var PrefixedColumns = []string{
	"Timestamp", "Time(ms)",
	"H1", "T1", "H2", "T2",
	"Fans", "Peltier", "Valve1", "Valve2", "Compressor", "Heater", "Drain",
}

// Line is a classified device line. Text is the trimmed line, or the payload
// with the data prefix removed for prefixed data rows.
type Line struct {
	Kind Kind
	Text string
}

type Classifier struct {
	Schema         Schema
	HeaderSentinel string
	DataPrefix     string
}

func NewClassifier(schema Schema) Classifier {
	return Classifier{
		Schema:         schema,
		HeaderSentinel: DefaultHeaderSentinel,
		DataPrefix:     DefaultDataPrefix,
	}
}

// Classify maps one decoded line onto exactly one Kind. It never fails.
func (c Classifier) Classify(line string, headerSeen bool) Line {
	text := strings.TrimSpace(line)
	if text == "" {
		return Line{Kind: KindMalformed}
	}

	if c.HeaderSentinel != "" && strings.HasPrefix(text, c.HeaderSentinel) {
		if headerSeen {
			return Line{Kind: KindMalformed, Text: text}
		}
		return Line{Kind: KindHeader, Text: text}
	}

	switch c.Schema {
	case SchemaPrefixed:
		if c.DataPrefix != "" && strings.HasPrefix(text, c.DataPrefix) {
			return Line{Kind: KindData, Text: strings.TrimPrefix(text, c.DataPrefix)}
		}
	default:
		if headerSeen && looksLikeRow(text) {
			return Line{Kind: KindData, Text: text}
		}
	}

	return Line{Kind: KindStatus, Text: text}
}

// key=value output from the firmware also contains commas, hence the '=' check.
func looksLikeRow(text string) bool {
	if !strings.Contains(text, ",") || strings.Contains(text, "=") {
		return false
	}
	return text[0] >= '0' && text[0] <= '9'
}
