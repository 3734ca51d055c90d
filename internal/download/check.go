package download

import (
	"bytes"
	"io"
	"unicode"
)

var htmlMarkers = [][]byte{
	[]byte("<html"),
	[]byte("<!DOCTYPE html"),
	[]byte("<head"),
	[]byte("<title"),
}

const htmlSniffLen = 32

// IsHTMLFile reports whether the body starts like an HTML page once leading
// whitespace within the first 32 bytes is skipped.
func IsHTMLFile(r io.Reader) bool {
	buf := make([]byte, htmlSniffLen)
	n, _ := io.ReadFull(r, buf)
	buf = buf[:n]

	i := 0
	for i < len(buf) && unicode.IsSpace(rune(buf[i])) {
		i++
	}
	head := buf[i:]
	for _, m := range htmlMarkers {
		if len(head) >= len(m) && bytes.EqualFold(head[:len(m)], m) {
			return true
		}
	}
	return false
}

// CheckMapFile accepts anything that is not an HTML error page.
func CheckMapFile(r io.Reader) bool {
	return !IsHTMLFile(r)
}
