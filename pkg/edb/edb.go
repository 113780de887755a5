// Package edb retrieves and decodes JWST Engineering Database telemetry.
//
// The archive exposes engineering mnemonics as CSV files addressed by a
// mast: URI that encodes the mnemonic and a UTC time window. A fetched
// file carries one row per sample with the wall-clock time, the Modified
// Julian Date used as the cross-mnemonic alignment key, and the reading
// in engineering units.
package edb

import (
	"fmt"
	"strings"
	"time"

	"github.com/mastflow/mastflow/pkg/errors"
)

// TimeFormat is the compact UTC layout used inside telemetry file URIs.
const TimeFormat = "20060102T150405"

// uriPrefix addresses the engineering-database file service.
const uriPrefix = "mast:jwstedb/"

// FileURI builds the archive URI for one mnemonic over a UTC window,
// e.g. "mast:jwstedb/sa_zhgaupst-20220701T000000-20220702T000000.csv".
func FileURI(mnemonic string, start, end time.Time) string {
	return fmt.Sprintf("%s%s-%s-%s.csv",
		uriPrefix,
		strings.ToLower(mnemonic),
		start.UTC().Format(TimeFormat),
		end.UTC().Format(TimeFormat))
}

// ValidMnemonic reports whether s looks like an engineering mnemonic:
// letters, digits and underscores only.
func ValidMnemonic(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// Request identifies one mnemonic over one time window.
type Request struct {
	Mnemonic string
	Start    time.Time
	End      time.Time
}

// Validate checks the request before it is sent to the archive.
func (r Request) Validate() error {
	if !ValidMnemonic(r.Mnemonic) {
		return errors.New(errors.CodeInvalidFormat, "invalid mnemonic").
			WithContext("mnemonic", r.Mnemonic)
	}
	if !r.Start.Before(r.End) {
		return errors.New(errors.CodeInvalidFormat, "start must be before end").
			WithContext("start", r.Start.Format(time.RFC3339)).
			WithContext("end", r.End.Format(time.RFC3339))
	}
	return nil
}

// URI returns the archive URI for this request.
func (r Request) URI() string {
	return FileURI(r.Mnemonic, r.Start, r.End)
}
