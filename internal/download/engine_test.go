package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

var pngBody = []byte("\x89PNG\r\n\x1a\nfake tile body")

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func newTestEngine(t *testing.T, client Doer) (*Engine, *tilestore.Store) {
	t.Helper()
	store := tilestore.New(t.TempDir(), true, nil, logger.NewNop())
	e := NewEngine(client, nil, store, Config{UserAgent: "test-agent/2.0"}, logger.NewNop())
	t.Cleanup(e.Close)
	return e, store
}

func requestFor(srv *httptest.Server, store *tilestore.Store, uri string, opts Options) Request {
	return Request{
		Scheme:  "http",
		Host:    strings.TrimPrefix(srv.URL, "http://"),
		URI:     uri,
		Dest:    filepath.Join(store.Root(), "t13s12z0", "2046", "1362"),
		Source:  "13",
		Options: opts,
	}
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && tilestore.IsTemp(path) {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
}

func TestGetOk(t *testing.T) {
	var gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.Header().Set("ETag", `"v1"`)
		w.Write(pngBody)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(TLSConfig{VerifyPeer: true})
	if err != nil {
		t.Fatal(err)
	}
	e, store := newTestEngine(t, client)
	req := requestFor(srv, store, "/12/2046/1362.png", Options{UseEtag: true, CheckFile: CheckMapFile})

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultOk {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if gotPath != "/12/2046/1362.png" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotUA, "test-agent/2.0 Go-http-client/") {
		t.Errorf("User-Agent = %q", gotUA)
	}

	data, err := store.Read(req.Dest)
	if err != nil || !bytes.Equal(data, pngBody) {
		t.Fatalf("stored tile = %q, %v", data, err)
	}
	if etag, _ := store.ReadETag(req.Dest); etag != `"v1"` {
		t.Errorf("etag sidecar = %q", etag)
	}
	assertNoTempFiles(t, store.Root())
}

func TestIfModifiedSinceNotModified(t *testing.T) {
	var gotIMS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIMS = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/12/1/1.png", Options{CheckFileServerTime: true})

	if err := store.WriteAtomic(req.Dest, bytes.NewReader(pngBody)); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := os.Chtimes(req.Dest, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultNoNewerFile {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if gotIMS != mtime.Format(http.TimeFormat) {
		t.Errorf("If-Modified-Since = %q", gotIMS)
	}
	after, _ := store.ModTime(req.Dest)
	if !after.Equal(mtime) {
		t.Errorf("mtime changed to %v", after)
	}
}

func TestETagNotModified(t *testing.T) {
	var gotINM, gotIMS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotINM = r.Header.Get("If-None-Match")
		gotIMS = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/12/1/1.png", Options{UseEtag: true, CheckFileServerTime: true})
	store.WriteAtomic(req.Dest, bytes.NewReader(pngBody))
	store.WriteETag(req.Dest, `"abc"`)

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultNoNewerFile {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if gotINM != `"abc"` {
		t.Errorf("If-None-Match = %q", gotINM)
	}
	if gotIMS != "" {
		t.Errorf("If-Modified-Since sent alongside an etag: %q", gotIMS)
	}
	data, _ := store.Read(req.Dest)
	if !bytes.Equal(data, pngBody) {
		t.Error("disk copy changed")
	}
}

func TestRemovedTileIsFetchedAgain(t *testing.T) {
	var inm []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inm = append(inm, r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write(pngBody)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/12/1/1.png", Options{UseEtag: true, CheckFileServerTime: true})

	if out, err := e.Get(context.Background(), req); err != nil || out.Result != ResultOk {
		t.Fatalf("first Get = %+v, %v", out, err)
	}
	if err := store.Remove(req.Dest); err != nil {
		t.Fatal(err)
	}

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultOk {
		t.Fatalf("second Get = %+v, %v", out, err)
	}
	if len(inm) != 2 || inm[1] != "" {
		t.Errorf("If-None-Match per request = %q, want none on the second", inm)
	}
	if !store.Exists(req.Dest) {
		t.Error("tile missing after redownload")
	}
}

func TestOkWithoutETagDropsOldValidator(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v1"`)
		}
		w.Write(pngBody)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/12/1/1.png", Options{UseEtag: true})

	for i := 0; i < 2; i++ {
		if out, err := e.Get(context.Background(), req); err != nil || out.Result != ResultOk {
			t.Fatalf("Get %d = %+v, %v", i, out, err)
		}
	}
	if etag, _ := store.ReadETag(req.Dest); etag != "" {
		t.Errorf("etag sidecar = %q, want removed", etag)
	}
	if etag := e.etag(req.Dest); etag != "" {
		t.Errorf("memoised etag = %q, want none", etag)
	}
}

func TestEmptyBodyIsNoNewerFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/1/1/1.png", Options{})

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultNoNewerFile {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if store.Exists(req.Dest) {
		t.Error("empty body was written")
	}
	assertNoTempFiles(t, store.Root())
}

func TestFailuresLeaveNothingOnDisk(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    Options
		wantErr error
		detail  Detail
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusNotFound)
			},
			wantErr: ErrServer,
			detail:  DetailHTTPError,
		},
		{
			name: "html instead of a tile",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("  \n<!doctype HTML><title>blocked</title>"))
			},
			opts:    Options{CheckFile: CheckMapFile},
			wantErr: ErrCheckerRejected,
			detail:  DetailContentError,
		},
		{
			name: "redirects disabled",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			},
			wantErr: ErrServer,
			detail:  DetailHTTPError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client, _ := NewHTTPClient(TLSConfig{})
			e, store := newTestEngine(t, client)
			req := requestFor(srv, store, "/1/1/1.png", tt.opts)

			out, err := e.Get(context.Background(), req)
			if out.Result != ResultError || !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get = %+v, %v", out, err)
			}
			if out.Detail != tt.detail {
				t.Errorf("detail = %v, want %v", out.Detail, tt.detail)
			}
			if store.Exists(req.Dest) {
				t.Error("failed download left a tile")
			}
			assertNoTempFiles(t, store.Root())
		})
	}
}

func TestFollowLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := NewHTTPClient(TLSConfig{})
	e, store := newTestEngine(t, client)

	out, err := e.Get(context.Background(), requestFor(srv, store, "/old", Options{FollowLocation: 1}))
	if err != nil || out.Result != ResultOk {
		t.Fatalf("Get = %+v, %v", out, err)
	}
}

func TestProgressAbortRemovesTemp(t *testing.T) {
	big := bytes.Repeat([]byte{1}, 256*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/1/1/1.png", Options{})
	var calls atomic.Int32
	req.Progress = func(done, total int64) bool {
		return calls.Add(1) >= 2
	}

	out, err := e.Get(context.Background(), req)
	if out.Result != ResultAborted || !errors.Is(err, ErrCanceled) {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if store.Exists(req.Dest) {
		t.Error("aborted download left a tile")
	}
	assertNoTempFiles(t, store.Root())
}

func TestContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		return nil, r.Context().Err()
	})
	e, store := newTestEngine(t, client)
	req := Request{Host: "tile.example.org", URI: "/1/1/1.png", Dest: filepath.Join(store.Root(), "x")}

	out, err := e.Get(ctx, req)
	if out.Result != ResultAborted || !errors.Is(err, ErrCanceled) {
		t.Fatalf("Get = %+v, %v", out, err)
	}
}

func TestRequestHeaders(t *testing.T) {
	var got *http.Request
	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		got = r
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(pngBody)),
			Header:     http.Header{},
		}, nil
	})
	e, store := newTestEngine(t, client)

	req := Request{
		Host: "tile.example.org",
		URI:  "/5/1/2.png",
		Dest: filepath.Join(store.Root(), "t1s5z0", "1", "2"),
		Options: Options{
			Referer:       "https://example.org/",
			UserPass:      "alice:secret",
			CustomHeaders: "X-Api-Key: 123\n\nbroken line\nX-Other:  two ",
		},
	}
	if out, err := e.Get(context.Background(), req); err != nil || out.Result != ResultOk {
		t.Fatalf("Get = %+v, %v", out, err)
	}

	if got.URL.String() != "https://tile.example.org/5/1/2.png" {
		t.Errorf("url = %s", got.URL)
	}
	if got.Header.Get("Referer") != "https://example.org/" {
		t.Errorf("Referer = %q", got.Header.Get("Referer"))
	}
	if user, pass, ok := got.BasicAuth(); !ok || user != "alice" || pass != "secret" {
		t.Errorf("basic auth = %q %q %v", user, pass, ok)
	}
	if got.Header.Get("X-Api-Key") != "123" || got.Header.Get("X-Other") != "two" {
		t.Errorf("custom headers = %v", got.Header)
	}
	if got.Header.Get("If-Modified-Since") != "" || got.Header.Get("If-None-Match") != "" {
		t.Error("conditional headers sent without options")
	}
}

type fakeFTP struct {
	body     []byte
	closeErr error
	gotPath  string
	gotAuth  string
}

func (f *fakeFTP) Retrieve(ctx context.Context, host, path, userPass string) (io.ReadCloser, error) {
	f.gotPath, f.gotAuth = path, userPass
	return &fakeBody{Reader: bytes.NewReader(f.body), err: f.closeErr}, nil
}

type fakeBody struct {
	*bytes.Reader
	err error
}

func (b *fakeBody) Close() error { return b.err }

func TestFTP(t *testing.T) {
	store := tilestore.New(t.TempDir(), true, nil, nil)

	ok := &fakeFTP{body: pngBody}
	e := NewEngine(nil, ok, store, Config{}, nil)
	defer e.Close()
	dest := filepath.Join(store.Root(), "a")
	out, err := e.Get(context.Background(), Request{Host: "ftp.example.org", URI: "/tiles/a.png", FTP: true, Dest: dest, Options: Options{UserPass: "u:p"}})
	if err != nil || out.Result != ResultOk || out.Status != 226 {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if ok.gotPath != "/tiles/a.png" || ok.gotAuth != "u:p" {
		t.Errorf("retrieve got %q %q", ok.gotPath, ok.gotAuth)
	}

	broken := &fakeFTP{body: pngBody, closeErr: errors.New("426 connection closed")}
	e2 := NewEngine(nil, broken, store, Config{}, nil)
	defer e2.Close()
	dest2 := filepath.Join(store.Root(), "b")
	out, err = e2.Get(context.Background(), Request{Host: "ftp.example.org", URI: "/b", FTP: true, Dest: dest2})
	if out.Result != ResultError || !errors.Is(err, ErrTransport) {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	if store.Exists(dest2) {
		t.Error("incomplete ftp transfer was kept")
	}
}

func TestConvertAndToMemory(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(pngBody)
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gz.Bytes())
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.Client())
	req := requestFor(srv, store, "/1/1/1.png.gz", Options{Convert: Decompress})

	out, err := e.Get(context.Background(), req)
	if err != nil || out.Result != ResultOk {
		t.Fatalf("Get = %+v, %v", out, err)
	}
	data, _ := store.Read(req.Dest)
	if !bytes.Equal(data, pngBody) {
		t.Errorf("converted tile = %q", data)
	}
	assertNoTempFiles(t, store.Root())

	mem, out, err := e.ToMemory(context.Background(), req)
	if err != nil || out.Result != ResultOk || !bytes.Equal(mem, pngBody) {
		t.Fatalf("ToMemory = %q, %+v, %v", mem, out, err)
	}
}
