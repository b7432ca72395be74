package api

import (
	"compress/flate"
	"database/sql"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	kgzip "github.com/klauspost/compress/gzip"

	"github.com/gapminder/ddf-server/internal/schema"
)

// rowStreamer abstracts over the rows of an executed SQL query and the
// synthetic rows of a schema query, so the encoder below does not care
// which one it is fed.
type rowStreamer interface {
	Next() bool
	Scan() ([]interface{}, error)
	Err() error
	Close() error
}

// sqlRowStreamer adapts *sql.Rows to rowStreamer, converting each row into
// JSON-friendly values ([]byte -> string, everything else passed through).
type sqlRowStreamer struct {
	rows *sql.Rows
	cols int
	buf  []interface{}
	ptrs []interface{}
}

func newSQLRowStreamer(rows *sql.Rows) (*sqlRowStreamer, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	s := &sqlRowStreamer{rows: rows, cols: len(cols)}
	s.buf = make([]interface{}, s.cols)
	s.ptrs = make([]interface{}, s.cols)
	for i := range s.buf {
		s.ptrs[i] = &s.buf[i]
	}
	return s, nil
}

func (s *sqlRowStreamer) Next() bool { return s.rows.Next() }

func (s *sqlRowStreamer) Scan() ([]interface{}, error) {
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return nil, err
	}
	out := make([]interface{}, s.cols)
	for i, v := range s.buf {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
		} else {
			out[i] = v
		}
	}
	return out, nil
}

func (s *sqlRowStreamer) Err() error   { return s.rows.Err() }
func (s *sqlRowStreamer) Close() error { return s.rows.Close() }

// schemaRowStreamer streams the synthetic rows of a `*.schema` query, which
// never touches the database.
type schemaRowStreamer struct {
	rows []schema.SchemaRow
	i    int
}

func newSchemaRowStreamer(rows []schema.SchemaRow) *schemaRowStreamer {
	return &schemaRowStreamer{rows: rows, i: -1}
}

func (s *schemaRowStreamer) Next() bool {
	s.i++
	return s.i < len(s.rows)
}

func (s *schemaRowStreamer) Scan() ([]interface{}, error) {
	r := s.rows[s.i]
	return []interface{}{r.Key, r.Value}, nil
}

func (s *schemaRowStreamer) Err() error   { return nil }
func (s *schemaRowStreamer) Close() error { return nil }

// streamResponse carries everything the encoder needs to render a query
// response body: the resolved version, the projected header, the row
// source, and any info/warn messages accumulated during compilation.
type streamResponse struct {
	Version string
	Header  []string
	Rows    rowStreamer
	Info    []string
	Warn    []string
}

// writeStream renders a streamResponse as the JSON object described for
// query results: a preamble, one array element per row, and a trailer
// carrying any info/warn messages. Output is wrapped in gzip or deflate
// when the client's Accept-Encoding allows it.
func writeStream(w http.ResponseWriter, r *http.Request, resp *streamResponse) error {
	out, closeEnc := negotiateEncoding(w, r)
	defer closeEnc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(out)

	if _, err := io.WriteString(out, `{"version":`); err != nil {
		return err
	}
	if err := enc.Encode(resp.Version); err != nil {
		return err
	}
	if _, err := io.WriteString(out, `,"header":`); err != nil {
		return err
	}
	if err := enc.Encode(resp.Header); err != nil {
		return err
	}
	if _, err := io.WriteString(out, `,"rows":[`); err != nil {
		return err
	}

	info := append([]string(nil), resp.Info...)
	n := 0
	for resp.Rows.Next() {
		row, err := resp.Rows.Scan()
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := io.WriteString(out, ","); err != nil {
				return err
			}
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
		n++
	}
	if err := resp.Rows.Err(); err != nil {
		return err
	}
	if n == 0 {
		info = append(info, "query returned zero results")
	}

	if _, err := io.WriteString(out, "]"); err != nil {
		return err
	}
	if len(info) > 0 {
		if _, err := io.WriteString(out, `,"info":`); err != nil {
			return err
		}
		if err := enc.Encode(info); err != nil {
			return err
		}
	}
	if len(resp.Warn) > 0 {
		if _, err := io.WriteString(out, `,"warn":`); err != nil {
			return err
		}
		if err := enc.Encode(resp.Warn); err != nil {
			return err
		}
	}
	_, err := io.WriteString(out, "}")
	return err
}

// negotiateEncoding wraps w in a gzip or deflate writer per Accept-Encoding,
// setting Content-Encoding accordingly, and returns a close function the
// caller must defer to flush the compressor.
func negotiateEncoding(w http.ResponseWriter, r *http.Request) (io.Writer, func() error) {
	accept := r.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "gzip"):
		w.Header().Set("Content-Encoding", "gzip")
		gz := kgzip.NewWriter(w)
		return gz, gz.Close
	case strings.Contains(accept, "deflate"):
		w.Header().Set("Content-Encoding", "deflate")
		fl, _ := flate.NewWriter(w, flate.DefaultCompression)
		return fl, fl.Close
	default:
		return w, func() error { return nil }
	}
}

