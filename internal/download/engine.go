package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
	"github.com/jaennil/guide_helper/backend/maps/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/maps/pkg/telemetry"
)

// FileStore is the part of the disk store the engine writes through.
type FileStore interface {
	ModTime(path string) (time.Time, error)
	ReadETag(path string) (string, error)
	WriteETag(path, etag string) error
	RemoveETag(path string)
	CreateTemp(path string) (*tilestore.TempFile, error)
}

var _ FileStore = (*tilestore.Store)(nil)

// Request is one tile fetch. Host is a bare authority, URI starts with '/'.
type Request struct {
	Scheme  string
	Host    string
	URI     string
	FTP     bool
	Dest    string
	Source  string
	Options Options
	// Progress is called after every chunk. Returning true aborts the transfer.
	Progress func(done, total int64) bool
}

func (r Request) URL() string {
	scheme := r.Scheme
	if r.FTP {
		scheme = "ftp"
	} else if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URI
}

type Outcome struct {
	Result Result
	Detail Detail
	Status int
	Bytes  int64
}

type Config struct {
	UserAgent string
	ETagTTL   time.Duration
}

type Engine struct {
	client    Doer
	ftp       FTPFetcher
	store     FileStore
	userAgent string
	etags     *ccache.Cache[string]
	etagTTL   time.Duration
	logger    logger.Logger
}

func NewEngine(client Doer, ftp FTPFetcher, store FileStore, cfg Config, l logger.Logger) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	if ftp == nil {
		ftp = NewFTPFetcher(0)
	}
	product := cfg.UserAgent
	if product == "" {
		product = "guide-helper-maps/1.0"
	}
	ttl := cfg.ETagTTL
	if ttl == 0 {
		ttl = time.Minute
	}

	return &Engine{
		client:    client,
		ftp:       ftp,
		store:     store,
		userAgent: fmt.Sprintf("%s Go-http-client/%s", product, strings.TrimPrefix(runtime.Version(), "go")),
		etags:     ccache.New(ccache.Configure[string]().MaxSize(4096)),
		etagTTL:   ttl,
		logger:    logger.OrNop(l),
	}
}

func (e *Engine) UserAgent() string {
	return e.userAgent
}

// Close stops the ETag memo's background worker.
func (e *Engine) Close() {
	e.etags.Stop()
}

// ForgetETag drops the memoised ETag of path, e.g. after the tile was removed.
func (e *Engine) ForgetETag(path string) {
	e.etags.Delete(path)
}

// Get downloads req into req.Dest through a temp file. The disk copy is
// only replaced when the result is ResultOk.
func (e *Engine) Get(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "download.Get",
		attribute.String("download.url", req.URL()),
		attribute.String("download.source", req.Source),
	)

	out, err := e.get(ctx, req)

	span.SetAttributes(attribute.String("download.result", out.Result.String()), attribute.Int("http.status_code", out.Status))
	if out.Result == ResultError {
		telemetry.EndSpan(span, err)
	} else {
		telemetry.EndSpan(span, nil)
	}
	metrics.DownloadResults.WithLabelValues(req.Source, out.Result.String()).Inc()
	metrics.DownloadDuration.WithLabelValues(req.Source).Observe(time.Since(start).Seconds())

	e.logger.Debug("tile download",
		"source", req.Source,
		"url", req.URL(),
		"result", out.Result.String(),
		"detail", out.Detail.String(),
		"status", out.Status,
		"bytes", out.Bytes,
	)
	return out, err
}

func (e *Engine) get(ctx context.Context, req Request) (Outcome, error) {
	body, out, etag, err := e.open(ctx, req)
	if body == nil {
		return out, err
	}

	tmp, err := e.store.CreateTemp(req.Dest)
	if err != nil {
		body.Close()
		return Outcome{Result: ResultError, Detail: DetailFileWriteError, Status: out.Status}, fmt.Errorf("%w: %v", ErrFileWrite, err)
	}

	n, err := copyBody(ctx, tmp, body, out.Bytes, req.Progress)
	closeErr := body.Close()
	out.Bytes = n
	if err != nil {
		tmp.Abort()
		return failed(out, err)
	}
	if closeErr != nil {
		tmp.Abort()
		return failed(out, fmt.Errorf("%w: %v", ErrTransport, closeErr))
	}
	if req.FTP {
		out.Status = ftpTransferComplete
	}

	// some servers answer a conditional request with an empty 200
	if n == 0 {
		tmp.Abort()
		out.Result = ResultNoNewerFile
		return out, nil
	}

	if check := req.Options.CheckFile; check != nil {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			tmp.Abort()
			return failed(out, fmt.Errorf("%w: %v", ErrFileWrite, err))
		}
		if !check(tmp) {
			tmp.Abort()
			return failed(out, ErrCheckerRejected)
		}
	}

	if convert := req.Options.Convert; convert != nil {
		converted, err := e.convert(tmp, req.Dest, convert)
		tmp.Abort()
		if err != nil {
			return failed(out, err)
		}
		tmp = converted
	}

	if err := tmp.Commit(); err != nil {
		return failed(out, fmt.Errorf("%w: %v", ErrFileWrite, err))
	}

	switch {
	case req.Options.UseEtag && etag != "":
		if err := e.store.WriteETag(req.Dest, etag); err != nil {
			e.logger.Warn("failed to store etag", "path", req.Dest, "error", err)
			e.ForgetETag(req.Dest)
		} else {
			e.etags.Set(req.Dest, etag, e.etagTTL)
		}
	case req.Options.UseEtag:
		// the new body has no validator, an older one would be stale
		e.store.RemoveETag(req.Dest)
		e.ForgetETag(req.Dest)
	}

	out.Result = ResultOk
	return out, nil
}

func (e *Engine) convert(src *tilestore.TempFile, dest string, convert Converter) (*tilestore.TempFile, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	dst, err := e.store.CreateTemp(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	if err := convert(dst, src); err != nil {
		dst.Abort()
		return nil, fmt.Errorf("%w: %v", ErrCheckerRejected, err)
	}
	return dst, nil
}

// ToMemory performs the same request but returns the body instead of
// writing it to disk. Revalidation headers are not sent.
func (e *Engine) ToMemory(ctx context.Context, req Request) ([]byte, Outcome, error) {
	req.Options.CheckFileServerTime = false
	req.Options.UseEtag = false
	req.Dest = ""

	body, out, _, err := e.open(ctx, req)
	if body == nil {
		return nil, out, err
	}

	var buf bytes.Buffer
	n, err := copyBody(ctx, &buf, body, out.Bytes, req.Progress)
	closeErr := body.Close()
	out.Bytes = n
	if err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %v", ErrTransport, closeErr)
	}
	if err != nil {
		out, err = failed(out, err)
		return nil, out, err
	}

	if check := req.Options.CheckFile; check != nil && !check(bytes.NewReader(buf.Bytes())) {
		out, err = failed(out, ErrCheckerRejected)
		return nil, out, err
	}
	if convert := req.Options.Convert; convert != nil {
		var conv bytes.Buffer
		if err := convert(&conv, &buf); err != nil {
			out, err = failed(out, fmt.Errorf("%w: %v", ErrCheckerRejected, err))
			return nil, out, err
		}
		buf = conv
	}

	out.Result = ResultOk
	return buf.Bytes(), out, nil
}

// open issues the request. A nil body means the outcome is final.
func (e *Engine) open(ctx context.Context, req Request) (io.ReadCloser, Outcome, string, error) {
	if req.FTP {
		body, err := e.ftp.Retrieve(ctx, req.Host, req.URI, req.Options.UserPass)
		if err != nil {
			out, err := failed(Outcome{}, transportError(ctx, err))
			return nil, out, "", err
		}
		return body, Outcome{Bytes: -1}, "", nil
	}

	httpReq, err := http.NewRequestWithContext(withFollowLocation(ctx, req.Options.FollowLocation), http.MethodGet, req.URL(), nil)
	if err != nil {
		return nil, Outcome{Result: ResultError, Detail: DetailTransportError}, "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	e.setHeaders(httpReq, req)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		out, err := failed(Outcome{}, transportError(ctx, err))
		return nil, out, "", err
	}

	out := Outcome{Status: resp.StatusCode, Bytes: resp.ContentLength}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, out, resp.Header.Get("ETag"), nil
	case http.StatusNotModified:
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		out.Result = ResultNoNewerFile
		out.Bytes = 0
		return nil, out, "", nil
	default:
		resp.Body.Close()
		out.Bytes = 0
		out, err := failed(out, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode))
		return nil, out, "", err
	}
}

func (e *Engine) setHeaders(httpReq *http.Request, req Request) {
	opts := req.Options
	h := httpReq.Header
	h.Set("User-Agent", e.userAgent)
	if opts.Referer != "" {
		h.Set("Referer", opts.Referer)
	}

	// Validators only make sense while the tile is on disk.
	var mtime time.Time
	exists := false
	if req.Dest != "" && (opts.UseEtag || opts.CheckFileServerTime) {
		t, err := e.store.ModTime(req.Dest)
		mtime, exists = t, err == nil
		if !exists {
			e.ForgetETag(req.Dest)
		}
	}

	etag := ""
	if opts.UseEtag && exists {
		etag = e.etag(req.Dest)
		if etag != "" {
			h.Set("If-None-Match", etag)
		}
	}
	if opts.CheckFileServerTime && etag == "" && exists {
		h.Set("If-Modified-Since", mtime.UTC().Format(http.TimeFormat))
	}

	if opts.UserPass != "" {
		user, pass, _ := strings.Cut(opts.UserPass, ":")
		httpReq.SetBasicAuth(user, pass)
	}

	for _, line := range strings.Split(opts.CustomHeaders, "\n") {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		h.Add(name, strings.TrimSpace(value))
	}
}

func (e *Engine) etag(path string) string {
	if item := e.etags.Get(path); item != nil && !item.Expired() {
		return item.Value()
	}
	etag, err := e.store.ReadETag(path)
	if err != nil {
		e.logger.Warn("failed to read etag", "path", path, "error", err)
		return ""
	}
	e.etags.Set(path, etag, e.etagTTL)
	return etag
}

func copyBody(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(done, total int64) bool) (int64, error) {
	buf := make([]byte, 32*1024)
	var done int64
	for {
		if ctx.Err() != nil {
			return done, ErrCanceled
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, fmt.Errorf("%w: %v", ErrFileWrite, err)
			}
			done += int64(n)
			if progress != nil && progress(done, total) {
				return done, ErrCanceled
			}
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			return done, transportError(ctx, rerr)
		}
	}
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// failed classifies err into the outcome.
func failed(out Outcome, err error) (Outcome, error) {
	switch {
	case errors.Is(err, ErrCanceled):
		out.Result = ResultAborted
		out.Detail = DetailNone
	case errors.Is(err, ErrServer):
		out.Result = ResultError
		out.Detail = DetailHTTPError
	case errors.Is(err, ErrCheckerRejected):
		out.Result = ResultError
		out.Detail = DetailContentError
	case errors.Is(err, ErrFileWrite):
		out.Result = ResultError
		out.Detail = DetailFileWriteError
	default:
		out.Result = ResultError
		out.Detail = DetailTransportError
	}
	return out, err
}
