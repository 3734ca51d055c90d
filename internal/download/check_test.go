package download

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func TestIsHTMLFile(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<html><body>", true},
		{"   \n\t<!DOCTYPE html>", true},
		{"<HEAD>", true},
		{"<Title>Error</Title>", true},
		{"\x89PNG\r\n", false},
		{"", false},
		{strings.Repeat(" ", 40) + "<html>", false},
	}
	for _, tt := range tests {
		if got := IsHTMLFile(strings.NewReader(tt.in)); got != tt.want {
			t.Errorf("IsHTMLFile(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecompressSniffsFormat(t *testing.T) {
	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatal(err)
	}
	xw.Write(pngBody)
	xw.Close()

	var zstBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstBuf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(pngBody)
	zw.Close()

	for name, in := range map[string][]byte{
		"xz":    xzBuf.Bytes(),
		"zstd":  zstBuf.Bytes(),
		"plain": pngBody,
	} {
		var out bytes.Buffer
		if err := Decompress(&out, bytes.NewReader(in)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !bytes.Equal(out.Bytes(), pngBody) {
			t.Errorf("%s: got %q", name, out.Bytes())
		}
	}
}
