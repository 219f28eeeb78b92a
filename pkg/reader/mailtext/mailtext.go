// Package mailtext decodes the pieces of a MIME message that readers hand to
// the rule engine: transfer encodings, charsets, encoded-word headers and dates.
package mailtext

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

// Header decodes RFC 2047 encoded words. Undecodable input is returned as is.
func Header(s string) string {
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// Transfer undoes a Content-Transfer-Encoding.
func Transfer(encoding string, data []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, data)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, cleaned)
		if err != nil {
			return nil, fmt.Errorf("decoding base64: %w", err)
		}
		return out[:n], nil
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("decoding quoted-printable: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Charset returns the charset parameter of a Content-Type value, or "".
func Charset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// Text converts data in the named charset to UTF-8. Unknown charsets and
// UTF-8 pass through unchanged.
func Text(label string, data []byte) string {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "us-ascii") {
		return string(data)
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return string(data)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// Date parses a Date header, returning the zero time when it cannot.
func Date(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Sender returns the address of a From header, or the raw value when it
// does not parse.
func Sender(from string) string {
	addr, err := mail.ParseAddress(Header(from))
	if err != nil {
		return Header(from)
	}
	if addr.Name == "" {
		return addr.Address
	}
	return addr.Name + " <" + addr.Address + ">"
}
