package download

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func Gunzip(dst io.Writer, src io.Reader) error {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	_, err = io.Copy(dst, zr)
	return err
}

func Bunzip2(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, bzip2.NewReader(src))
	if err != nil {
		return fmt.Errorf("bunzip2: %w", err)
	}
	return nil
}

func Unxz(dst io.Writer, src io.Reader) error {
	xr, err := xz.NewReader(src)
	if err != nil {
		return fmt.Errorf("unxz: %w", err)
	}
	_, err = io.Copy(dst, xr)
	return err
}

func Unzstd(dst io.Writer, src io.Reader) error {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("unzstd: %w", err)
	}
	defer dec.Close()
	_, err = io.Copy(dst, dec)
	return err
}

// Unzip extracts the first entry of a zip archive.
func Unzip(dst io.Writer, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("unzip: %w", err)
	}
	if len(zr.File) == 0 {
		return errors.New("unzip: empty archive")
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return fmt.Errorf("unzip: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

var magics = []struct {
	prefix []byte
	conv   Converter
}{
	{[]byte{0x1f, 0x8b}, Gunzip},
	{[]byte("BZh"), Bunzip2},
	{[]byte("PK\x03\x04"), Unzip},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, Unxz},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, Unzstd},
}

// Decompress sniffs the compression format and unpacks it. Unknown data is
// copied through.
func Decompress(dst io.Writer, src io.Reader) error {
	br := bufio.NewReader(src)
	head, _ := br.Peek(6)
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.conv(dst, br)
		}
	}
	_, err := io.Copy(dst, br)
	return err
}
