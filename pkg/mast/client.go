// Package mast is a client for the MAST portal Mashup API.
//
// Every query is a POST of one form-encoded JSON request to the invoke
// endpoint. Long-running queries answer with an EXECUTING envelope; the
// client re-posts the same request at a fixed interval until the service
// reports COMPLETE or ERROR, bounded only by the caller's context.
package mast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// Config controls the portal client.
type Config struct {
	// BaseURL is the portal root, default https://mast.stsci.edu.
	BaseURL string

	// UserAgent identifies this client to the portal.
	UserAgent string

	// Timeout bounds each query exchange. File downloads are bounded
	// by the caller's context instead.
	Timeout time.Duration

	// PollInterval is the wait between EXECUTING re-posts.
	PollInterval time.Duration

	// PageSize is the default page size for enveloped queries.
	PageSize int

	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://mast.stsci.edu",
		UserAgent:    "mastflow",
		Timeout:      60 * time.Second,
		PollInterval: time.Second,
		PageSize:     2000,
	}
}

// Client talks to the portal. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client

	// dl has no overall timeout; a file transfer is bounded by the
	// caller's context, not by the query timeout.
	dl *http.Client
}

// NewClient creates a portal client, filling zero config fields with
// defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = def.PageSize
	}

	client := cfg.HTTPClient
	dl := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
		dl = &http.Client{}
	}

	return &Client{cfg: cfg, client: client, dl: dl}
}

func (c *Client) invokeURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v0/invoke"
}

func (c *Client) downloadURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v0.1/Download/file"
}

// post sends one form-encoded request and returns the raw body.
func (c *Client) post(ctx context.Context, mashupReq Request) ([]byte, error) {
	payload, err := json.Marshal(mashupReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "encoding request")
	}

	form := url.Values{"request": {string(payload)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.invokeURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "building request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeServiceError, "portal request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeServiceError,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)).
			WithContext("service", mashupReq.Service)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeServiceError, "reading response")
	}
	return body, nil
}

// Invoke posts one enveloped request, re-posting at the poll interval
// while the service reports EXECUTING.
func (c *Client) Invoke(ctx context.Context, mashupReq Request) (*Response, error) {
	if mashupReq.Format == "" {
		mashupReq.Format = "json"
	}

	for {
		body, err := c.post(ctx, mashupReq)
		if err != nil {
			return nil, err
		}

		var envelope Response
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, errors.Wrap(err, errors.CodeBadResponse, "decoding envelope").
				WithContext("service", mashupReq.Service)
		}

		switch envelope.Status {
		case StatusComplete:
			return &envelope, nil

		case StatusExecuting:
			timer := time.NewTimer(c.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.ContextCanceled("mashup invoke")
			case <-timer.C:
			}

		case StatusError:
			return nil, errors.QueryFailed(mashupReq.Service,
				errors.New(errors.CodeServiceError, envelope.Msg))

		default:
			return nil, errors.New(errors.CodeBadResponse, "unknown envelope status").
				WithContext("status", envelope.Status).
				WithContext("service", mashupReq.Service)
		}
	}
}

// ResolveName resolves a target name ("M101", "TRAPPIST-1") to sky
// coordinates. The lookup service replies outside the standard
// envelope, so this bypasses Invoke.
func (c *Client) ResolveName(ctx context.Context, name string) (*Coordinates, error) {
	body, err := c.post(ctx, Request{
		Service: ServiceNameLookup,
		Params: map[string]interface{}{
			"input":  name,
			"format": "json",
		},
	})
	if err != nil {
		return nil, err
	}

	var reply lookupResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, errors.Wrap(err, errors.CodeBadResponse, "decoding lookup reply")
	}
	if len(reply.ResolvedCoordinate) == 0 {
		return nil, errors.ResolveFailed(name,
			errors.New(errors.CodeResolveFailed, "no coordinates returned"))
	}

	row := reply.ResolvedCoordinate[0]
	return &Coordinates{
		RA:            row.RA,
		Dec:           row.Decl,
		CanonicalName: row.CanonicalName,
		ObjectType:    row.ObjectType,
		Resolver:      row.Resolver,
	}, nil
}

// ConeSearch returns the observations within radius degrees of a sky
// position.
func (c *Client) ConeSearch(ctx context.Context, ra, dec, radius float64) ([]model.Observation, error) {
	envelope, err := c.Invoke(ctx, Request{
		Service: ServiceCaomCone,
		Params: map[string]interface{}{
			"ra":     ra,
			"dec":    dec,
			"radius": radius,
		},
		Pagesize: c.cfg.PageSize,
		Page:     1,
	})
	if err != nil {
		return nil, err
	}
	return decodeObservations(envelope.Data)
}

// QueryCriteria returns the observations matching a set of column
// filters, e.g. obs_collection=JWST, instrument_name=NIRCam. An empty
// columns list requests every column.
func (c *Client) QueryCriteria(ctx context.Context, filters []Filter, columns []string) ([]model.Observation, error) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ",")
	}
	envelope, err := c.Invoke(ctx, Request{
		Service: ServiceCaomFiltered,
		Params: map[string]interface{}{
			"columns": cols,
			"filters": filters,
		},
		Pagesize: c.cfg.PageSize,
		Page:     1,
	})
	if err != nil {
		return nil, err
	}
	return decodeObservations(envelope.Data)
}

// Products lists the data products for one observation, keyed by the
// numeric product-group ID from an observation query.
func (c *Client) Products(ctx context.Context, productGroupID string) ([]model.Product, error) {
	envelope, err := c.Invoke(ctx, Request{
		Service: ServiceCaomProducts,
		Params: map[string]interface{}{
			"obsid": productGroupID,
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeProducts(envelope.Data)
}

func decodeObservations(data json.RawMessage) ([]model.Observation, error) {
	if len(data) == 0 {
		return []model.Observation{}, nil
	}

	var rows []caomRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, errors.CodeBadResponse, "decoding observations")
	}

	out := make([]model.Observation, len(rows))
	for i, row := range rows {
		out[i] = model.Observation{
			ObsID:           row.ObsID,
			ProductGroupID:  row.Obsid.String(),
			Collection:      row.Collection,
			Instrument:      row.Instrument,
			Filters:         row.Filters,
			TargetName:      row.TargetName,
			RA:              row.RA,
			Dec:             row.Dec,
			TMin:            row.TMin,
			TMax:            row.TMax,
			ExposureTime:    row.ExposureTime,
			DataproductType: row.DataproductType,
			CalibLevel:      row.CalibLevel,
		}
	}
	return out, nil
}

func decodeProducts(data json.RawMessage) ([]model.Product, error) {
	if len(data) == 0 {
		return []model.Product{}, nil
	}

	var rows []productRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, errors.CodeBadResponse, "decoding products")
	}

	out := make([]model.Product, len(rows))
	for i, row := range rows {
		out[i] = model.Product{
			ObsID:       row.ObsID.String(),
			Type:        row.Type,
			Subgroup:    row.Subgroup,
			Description: row.Description,
			URI:         row.DataURI,
			Size:        row.Size,
		}
	}
	return out, nil
}
