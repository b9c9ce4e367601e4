package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodingAuto detects UTF-8 and UTF-16 by BOM and content, falling back to
// Windows-1252, which is what EC-Lab and most Windows instrument software write.
const EncodingAuto = "auto"

const sniffSize = 64 * 1024

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode wraps r so that callers always read UTF-8 text without a BOM.
// It returns the name of the encoding that was applied.
func Decode(r io.Reader, encoding string) (io.Reader, string, error) {
	br := bufio.NewReaderSize(r, sniffSize)

	head, err := br.Peek(sniffSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(head) == 0 {
		return nil, "", ErrEmptyFile
	}
	complete := err == io.EOF

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		_, _ = br.Discard(len(bomUTF8))
		return br, "utf-8", nil
	case bytes.HasPrefix(head, bomUTF16LE), bytes.HasPrefix(head, bomUTF16BE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec), "utf-16", nil
	}

	name := strings.ToLower(strings.TrimSpace(encoding))
	switch name {
	case "", EncodingAuto:
		if validUTF8Prefix(head, complete) {
			return br, "utf-8", nil
		}
		return transform.NewReader(br, charmap.Windows1252.NewDecoder()), "windows-1252", nil
	case "utf-8", "utf8":
		if !validUTF8Prefix(head, complete) {
			return nil, "", ErrInvalidEncoding
		}
		return br, "utf-8", nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}
	canonical, _ := htmlindex.Name(enc)
	return transform.NewReader(br, enc.NewDecoder()), canonical, nil
}

// validUTF8Prefix reports whether b is valid UTF-8, ignoring a multi-byte
// sequence cut off at the end of an incomplete sniff window.
func validUTF8Prefix(b []byte, complete bool) bool {
	cut := len(b)
	if !complete {
		for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
			if utf8.RuneStart(b[i]) {
				if !utf8.FullRune(b[i:]) {
					cut = i
				}
				break
			}
		}
	}
	return utf8.Valid(b[:cut])
}
