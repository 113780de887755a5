package mast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/mastflow/mastflow/pkg/errors"
	"github.com/mastflow/mastflow/pkg/util"
)

// OpenDownload streams one archive file by its mast: URI. The returned
// size is taken from Content-Length and is -1 when the portal does not
// report one. The caller owns the body.
func (c *Client) OpenDownload(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	target := c.downloadURL() + "?uri=" + url.QueryEscape(uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, errors.DownloadFailed(uri, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.dl.Do(req)
	if err != nil {
		return nil, 0, errors.DownloadFailed(uri, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, errors.DownloadFailed(uri,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	size := resp.ContentLength
	return resp.Body, size, nil
}

// DownloadFile streams one archive file to destPath, creating parent
// directories as needed. progress, if non-nil, is invoked after every
// chunk with the bytes written so far and the expected total (-1 when
// unknown). Returns the number of bytes written.
func (c *Client) DownloadFile(ctx context.Context, uri, destPath string, progress func(written, total int64)) (int64, error) {
	body, size, err := c.OpenDownload(ctx, uri)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := util.EnsureDir(destPath); err != nil {
		return 0, errors.Wrap(err, errors.CodeWriteFailed, "creating output directory")
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeWriteFailed, "creating output file").
			WithContext("path", destPath)
	}

	written, err := io.Copy(&progressWriter{w: out, total: size, fn: progress}, body)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return written, errors.DownloadFailed(uri, err)
	}
	if err := out.Close(); err != nil {
		return written, errors.Wrap(err, errors.CodeWriteFailed, "closing output file")
	}

	return written, nil
}

// LocalName derives a local filename from a mast: URI,
// e.g. "mast:jwstedb/sa_zhgaupst-...csv" -> "sa_zhgaupst-...csv".
func LocalName(uri string) string {
	trimmed := strings.TrimPrefix(uri, "mast:")
	name := path.Base(trimmed)
	if name == "." || name == "/" || name == "" {
		return "download.dat"
	}
	return name
}

// progressWriter reports cumulative bytes after each write.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	fn      func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.fn != nil {
		p.fn(p.written, p.total)
	}
	return n, err
}
