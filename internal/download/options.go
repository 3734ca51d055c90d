// Package download fetches tiles over HTTP or FTP into the disk store,
// honouring conditional revalidation and cooperative cancellation.
package download

import (
	"errors"
	"io"
)

var (
	ErrTransport       = errors.New("transport error")
	ErrServer          = errors.New("server error")
	ErrCheckerRejected = errors.New("content rejected by checker")
	ErrCanceled        = errors.New("download canceled")
	ErrFileWrite       = errors.New("tile write failed")
)

type Result int

const (
	ResultOk Result = iota
	ResultNoNewerFile
	ResultError
	ResultAborted
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultNoNewerFile:
		return "no_newer_file"
	case ResultError:
		return "error"
	case ResultAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Detail refines ResultError for reporting.
type Detail int

const (
	DetailNone Detail = iota
	DetailHTTPError
	DetailContentError
	DetailFileWriteError
	DetailTransportError
)

func (d Detail) String() string {
	switch d {
	case DetailHTTPError:
		return "http_error"
	case DetailContentError:
		return "content_error"
	case DetailFileWriteError:
		return "file_write_error"
	case DetailTransportError:
		return "transport_error"
	default:
		return "none"
	}
}

// ContentChecker inspects a downloaded body and reports whether it is acceptable.
type ContentChecker func(r io.Reader) bool

// Converter rewrites a downloaded body, e.g. to decompress it.
type Converter func(dst io.Writer, src io.Reader) error

// Options tunes one request. Sources hand out copies.
type Options struct {
	// CheckFileServerTime sends If-Modified-Since from the file's mtime.
	CheckFileServerTime bool `json:"check_file_server_time" yaml:"check_file_server_time"`

	UseEtag bool   `json:"use_etag" yaml:"use_etag"`
	Referer string `json:"referer,omitempty" yaml:"referer"`

	// FollowLocation is the redirect limit. 0 disables redirects.
	FollowLocation int `json:"follow_location" yaml:"follow_location"`

	// UserPass is "user:password" for basic auth.
	UserPass string `json:"-" yaml:"user_pass"`

	// CustomHeaders holds extra headers, one "Name: value" per line.
	CustomHeaders string `json:"custom_headers,omitempty" yaml:"custom_headers"`

	CheckFile ContentChecker `json:"-" yaml:"-"`
	Convert   Converter      `json:"-" yaml:"-"`
}
