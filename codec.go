package main

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// Encoding names a character set the server can be asked to speak.
type Encoding string

const (
	EncodingUTF8 Encoding = "utf8"
	EncodingGBK  Encoding = "gbk"
	EncodingBIG5 Encoding = "big5"
)

// SelectionCode is the digit the server's encoding prompt expects
// ("Input 1 for GBK, 2 for UTF8, 3 for BIG5").
func (e Encoding) SelectionCode() string {
	switch e {
	case EncodingGBK:
		return "1"
	case EncodingBIG5:
		return "3"
	default:
		return "2"
	}
}

// ParseEncoding accepts the spellings people actually type in a .env file.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "utf8":
		return EncodingUTF8, nil
	case "gbk", "gb2312", "gb18030":
		return EncodingGBK, nil
	case "big5":
		return EncodingBIG5, nil
	}
	return "", fmt.Errorf("unknown encoding %q (want utf8, gbk or big5)", s)
}

// Codec converts between the server's byte stream and Go strings. Decoding
// is lenient: invalid input becomes U+FFFD. A multi-byte character split
// across two reads is held back until the rest of it arrives.
//
// A Codec is owned by a single reader; Encode may be called concurrently.
type Codec struct {
	enc     encoding.Encoding // nil for UTF-8
	decoder transform.Transformer
	pending []byte
}

// NewCodec returns a codec for e.
func NewCodec(e Encoding) *Codec {
	c := &Codec{}
	switch e {
	case EncodingGBK:
		c.enc = simplifiedchinese.GBK
	case EncodingBIG5:
		c.enc = traditionalchinese.Big5
	}
	if c.enc != nil {
		c.decoder = c.enc.NewDecoder()
	}
	return c
}

// Decode turns the next chunk of inbound bytes into text.
func (c *Codec) Decode(p []byte) string {
	src := p
	if len(c.pending) > 0 {
		src = append(c.pending, p...)
		c.pending = nil
	}
	if len(src) == 0 {
		return ""
	}

	if c.decoder == nil {
		cut := incompleteUTF8Tail(src)
		if cut < len(src) {
			c.pending = append([]byte(nil), src[cut:]...)
		}
		return strings.ToValidUTF8(string(src[:cut]), "\uFFFD")
	}

	var out []byte
	dst := make([]byte, 2*len(src)+utf8.UTFMax)
	for len(src) > 0 {
		nDst, nSrc, err := c.decoder.Transform(dst, src, false)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		switch {
		case errors.Is(err, transform.ErrShortDst):
			dst = make([]byte, 2*len(dst))
		case errors.Is(err, transform.ErrShortSrc):
			c.pending = append([]byte(nil), src...)
			return string(out)
		case err != nil:
			// Undecodable byte: replace it and move on.
			out = append(out, "\uFFFD"...)
			if len(src) > 0 {
				src = src[1:]
			}
		}
	}
	return string(out)
}

// Flush returns whatever was held back as incomplete and clears it.
func (c *Codec) Flush() string {
	if len(c.pending) == 0 {
		return ""
	}
	rest := c.pending
	c.pending = nil
	if c.decoder != nil {
		c.decoder.Reset()
	}
	return strings.ToValidUTF8(string(rest), "\uFFFD")
}

// Encode converts outbound text to the server's encoding. Characters the
// target charset cannot represent are replaced rather than failing the send.
func (c *Codec) Encode(s string) []byte {
	if c.enc == nil {
		return []byte(s)
	}
	out, _, err := transform.Bytes(encoding.ReplaceUnsupported(c.enc.NewEncoder()), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// incompleteUTF8Tail returns the index where an unfinished trailing rune
// starts, or len(p) when p ends on a rune boundary.
func incompleteUTF8Tail(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return i
			}
			return len(p)
		}
	}
	return len(p)
}
