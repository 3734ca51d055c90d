package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpTransferComplete is the reply code of a finished RETR.
const ftpTransferComplete = 226

// FTPFetcher retrieves one file over FTP. The returned body reports a
// failed transfer from Close, so callers must check it.
type FTPFetcher interface {
	Retrieve(ctx context.Context, host, path, userPass string) (io.ReadCloser, error)
}

type ftpFetcher struct {
	timeout time.Duration
}

func NewFTPFetcher(timeout time.Duration) FTPFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ftpFetcher{timeout: timeout}
}

func (f *ftpFetcher) Retrieve(ctx context.Context, host, path, userPass string) (io.ReadCloser, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	user, pass := "anonymous", "anonymous"
	if userPass != "" {
		user, pass, _ = strings.Cut(userPass, ":")
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr %s failed: %w", path, err)
	}
	return &ftpBody{resp: resp, conn: conn}, nil
}

// ftpBody closes the data connection, which waits for the 226 reply, then
// ends the session.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) {
	return b.resp.Read(p)
}

func (b *ftpBody) Close() error {
	err := b.resp.Close()
	b.conn.Quit()
	if err != nil {
		return fmt.Errorf("ftp transfer incomplete: %w", err)
	}
	return nil
}
