package edb

import (
	"context"
	"io"

	"github.com/mastflow/mastflow/pkg/errors"
)

// Downloader streams one archive file by its mast: URI. Implemented by
// the portal client; a test double works just as well.
type Downloader interface {
	OpenDownload(ctx context.Context, uri string) (io.ReadCloser, int64, error)
}

// Client fetches telemetry series from the engineering database.
type Client struct {
	downloader Downloader
	decoder    *Decoder
}

// NewClient creates a telemetry client on top of an archive downloader.
func NewClient(downloader Downloader, cfg DecodeConfig) *Client {
	return &Client{
		downloader: downloader,
		decoder:    NewDecoder(cfg),
	}
}

// Fetch retrieves and decodes the telemetry for one request.
func (c *Client) Fetch(ctx context.Context, req Request) (*Series, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	uri := req.URI()
	body, _, err := c.downloader.OpenDownload(ctx, uri)
	if err != nil {
		return nil, errors.DownloadFailed(uri, err)
	}
	defer body.Close()

	series, err := c.decoder.Decode(ctx, req.Mnemonic, body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDecodeFailed, "decoding %s", req.Mnemonic)
	}
	return series, nil
}

// FetchPair retrieves two mnemonics over the same window, typically the
// two channels fed to the segmenter.
func (c *Client) FetchPair(ctx context.Context, x, y string, req Request) (*Series, *Series, error) {
	xReq := Request{Mnemonic: x, Start: req.Start, End: req.End}
	yReq := Request{Mnemonic: y, Start: req.Start, End: req.End}

	xSeries, err := c.Fetch(ctx, xReq)
	if err != nil {
		return nil, nil, err
	}
	ySeries, err := c.Fetch(ctx, yReq)
	if err != nil {
		return nil, nil, err
	}
	return xSeries, ySeries, nil
}
