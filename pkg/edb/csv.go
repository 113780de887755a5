package edb

import (
	"bufio"
	"context"
	"io"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/internal/pool"
	"github.com/mastflow/mastflow/pkg/errors"
)

// DecodeConfig controls how a telemetry CSV file is decoded.
type DecodeConfig struct {
	// TimeColumn is the wall-clock column name.
	TimeColumn string

	// MJDColumn is the alignment-key column name.
	MJDColumn string

	// ValueColumn is the engineering-unit reading column name.
	ValueColumn string

	// DataTypeColumn is the optional SQL-type column name.
	DataTypeColumn string

	// Delimiter is the field delimiter (default: comma).
	Delimiter byte

	// BufferSize is the read buffer size in bytes.
	BufferSize int

	// Strict aborts the decode on the first bad row. When false, bad
	// rows are counted, reported through OnSkip, and dropped.
	Strict bool

	// OnSkip, if set, is invoked for every dropped row with the raw
	// line, so callers can quarantine it.
	OnSkip func(row int64, line []byte, reason string)
}

// DefaultDecodeConfig returns the column layout the archive emits.
func DefaultDecodeConfig() DecodeConfig {
	return DecodeConfig{
		TimeColumn:     "theTime",
		MJDColumn:      "MJD",
		ValueColumn:    "euvalue",
		DataTypeColumn: "sqldataType",
		Delimiter:      ',',
		BufferSize:     64 * 1024,
	}
}

// Decoder parses engineering-database CSV files with byte-level field
// scanning, no strings.Split.
type Decoder struct {
	cfg DecodeConfig
}

// NewDecoder creates a decoder with the given configuration.
func NewDecoder(cfg DecodeConfig) *Decoder {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}
	return &Decoder{cfg: cfg}
}

// Decode reads one telemetry file and returns the decoded series.
// The mnemonic is recorded on the result; the file itself does not
// carry it.
func (d *Decoder) Decode(ctx context.Context, mnemonic string, r io.Reader) (*Series, error) {
	reader := bufio.NewReaderSize(r, d.cfg.BufferSize)

	headerLine, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.CodeDecodeFailed, "reading header")
	}
	headerLine = trimLineEnding(headerLine)
	if len(headerLine) == 0 {
		return nil, errors.New(errors.CodeInvalidFormat, "empty telemetry file")
	}

	columns := d.parseLine(headerLine)
	colMap := buildColumnMap(columns)

	mjdIdx, ok := colMap[d.cfg.MJDColumn]
	if !ok {
		return nil, errors.MissingColumn(d.cfg.MJDColumn, columnNames(columns))
	}
	valIdx, ok := colMap[d.cfg.ValueColumn]
	if !ok {
		return nil, errors.MissingColumn(d.cfg.ValueColumn, columnNames(columns))
	}
	timeIdx, hasTime := colMap[d.cfg.TimeColumn]
	typeIdx, hasType := colMap[d.cfg.DataTypeColumn]

	series := &Series{
		Mnemonic: mnemonic,
		Samples:  make([]model.EngSample, 0, 1024),
	}

	var row int64 = 1
	for {
		select {
		case <-ctx.Done():
			return nil, errors.ContextCanceled("edb decode")
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.CodeDecodeFailed, "reading row").
				WithContext("row", row)
		}
		if len(line) == 0 && err == io.EOF {
			break
		}

		row++
		line = trimLineEnding(line)
		if len(line) == 0 {
			if err == io.EOF {
				break
			}
			continue
		}

		fields := d.parseLine(line)
		if len(fields) <= mjdIdx || len(fields) <= valIdx {
			if derr := d.skip(series, row, line, "short row"); derr != nil {
				return nil, derr
			}
			if err == io.EOF {
				break
			}
			continue
		}

		mjd, perr := pool.ParseMJD(fields[mjdIdx])
		if perr != nil {
			if d.cfg.Strict {
				return nil, errors.InvalidMJD(string(fields[mjdIdx]), int(row))
			}
			if derr := d.skip(series, row, line, "bad MJD"); derr != nil {
				return nil, derr
			}
			if err == io.EOF {
				break
			}
			continue
		}

		value, perr := pool.ParseFloat64(fields[valIdx])
		if perr != nil {
			if d.cfg.Strict {
				return nil, errors.DecodeError(mnemonic, int(row), perr).
					WithContext("value", string(fields[valIdx]))
			}
			if derr := d.skip(series, row, line, "bad value"); derr != nil {
				return nil, derr
			}
			if err == io.EOF {
				break
			}
			continue
		}

		// Wall-clock column is preferred; derive it from the MJD key
		// when the file omits it.
		var ts int64
		if hasTime && timeIdx < len(fields) {
			ts, perr = pool.ParseTimestamp(fields[timeIdx])
			if perr != nil {
				if d.cfg.Strict {
					return nil, errors.InvalidTimestamp(string(fields[timeIdx]), int(row))
				}
				if derr := d.skip(series, row, line, "bad timestamp"); derr != nil {
					return nil, derr
				}
				if err == io.EOF {
					break
				}
				continue
			}
		} else {
			ts = pool.MJDToUnixNano(mjd)
		}

		if hasType && series.DataType == "" && typeIdx < len(fields) {
			series.DataType = string(fields[typeIdx])
		}

		series.Samples = append(series.Samples, model.EngSample{
			MJD:   mjd,
			Time:  ts,
			Value: value,
		})

		if err == io.EOF {
			break
		}
	}

	return series, nil
}

// skip records a dropped row, or returns an error under strict decoding.
func (d *Decoder) skip(series *Series, row int64, line []byte, reason string) error {
	if d.cfg.Strict {
		return errors.New(errors.CodeDecodeFailed, reason).WithContext("row", row)
	}
	series.Skipped++
	if d.cfg.OnSkip != nil {
		d.cfg.OnSkip(row, line, reason)
	}
	return nil
}

// parseLine splits a CSV line with byte-level scanning. Quoted fields
// may contain embedded delimiters and doubled quotes.
func (d *Decoder) parseLine(line []byte) [][]byte {
	if len(line) == 0 {
		return nil
	}

	fields := make([][]byte, 0, 8)
	delim := d.cfg.Delimiter
	start := 0
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]

		if c == '"' {
			if !inQuotes {
				inQuotes = true
			} else {
				if i+1 < len(line) && line[i+1] == '"' {
					i++
				} else {
					inQuotes = false
				}
			}
		} else if c == delim && !inQuotes {
			fields = append(fields, unquoteField(line[start:i]))
			start = i + 1
		}
	}
	fields = append(fields, unquoteField(line[start:]))

	return fields
}

// unquoteField removes surrounding quotes and unescapes embedded quotes.
func unquoteField(field []byte) []byte {
	if len(field) < 2 {
		return field
	}
	if field[0] == '"' && field[len(field)-1] == '"' {
		field = field[1 : len(field)-1]
		result := make([]byte, 0, len(field))
		for i := 0; i < len(field); i++ {
			if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
				result = append(result, '"')
				i++
			} else {
				result = append(result, field[i])
			}
		}
		return result
	}
	return field
}

// buildColumnMap creates a map of column name to index.
func buildColumnMap(columns [][]byte) map[string]int {
	m := make(map[string]int, len(columns))
	for i, col := range columns {
		m[string(pool.TrimSpaces(col))] = i
	}
	return m
}

func columnNames(columns [][]byte) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = string(col)
	}
	return names
}

// trimLineEnding removes trailing \n and \r characters.
func trimLineEnding(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
