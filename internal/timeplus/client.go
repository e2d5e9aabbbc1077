// Package timeplus wraps the Timeplus Proton native protocol driver
// with the small surface the rest of the runtime needs: one-shot
// queries, batch inserts, and unbounded streaming tails.
package timeplus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"
)

// ErrTransport wraps connection and protocol failures so callers can
// distinguish them from query-shape problems.
var ErrTransport = errors.New("timeplus transport error")

// Row is a single result row keyed by column name.
type Row map[string]any

// String returns the named column as a string, or "" when absent.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	case nil:
	default:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Int returns the named column as an int64, coercing the driver's
// sized integer types.
func (r Row) Int(key string) int64 {
	switch v := r[key].(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Float returns the named column as a float64.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return 0
}

// Bool returns the named column as a bool. Proton surfaces bool
// columns as uint8.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case uint8:
		return v != 0
	case int8:
		return v != 0
	}
	return false
}

// Time returns the named column as a time.Time, or the zero value.
func (r Row) Time(key string) time.Time {
	if t, ok := r[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Floats returns the named column as a []float32 (embedding vectors).
func (r Row) Floats(key string) []float32 {
	switch v := r[key].(type) {
	case []float32:
		return v
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	}
	return nil
}

// Strings returns the named column as a []string (tag arrays).
func (r Row) Strings(key string) []string {
	if v, ok := r[key].([]string); ok {
		return v
	}
	return nil
}

// Querier is the request/response surface of the client. Components
// accept this interface so tests can substitute fakes.
type Querier interface {
	Execute(ctx context.Context, query string) error
	Query(ctx context.Context, query string) ([]Row, error)
	Insert(ctx context.Context, stream string, columns []string, rows [][]any) error
}

// Tailer is the streaming surface of the client. Stream runs an
// unbounded query and delivers rows until ctx is cancelled.
type Tailer interface {
	Stream(ctx context.Context, query string) (<-chan Row, <-chan error)
}

// Options configures a Client connection.
type Options struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (o Options) addr() string {
	port := o.Port
	if port == 0 {
		port = 8463
	}
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (o Options) protonOptions() *proton.Options {
	db := o.Database
	if db == "" {
		db = "default"
	}
	user := o.Username
	if user == "" {
		user = "default"
	}
	return &proton.Options{
		Addr: []string{o.addr()},
		Auth: proton.Auth{
			Database: db,
			Username: user,
			Password: o.Password,
		},
		DialTimeout: 10 * time.Second,
	}
}

// Client talks to a Timeplus Proton server over the native protocol.
// The shared connection handles one query at a time, so each streaming
// tail opens its own dedicated connection.
type Client struct {
	conn   driver.Conn
	opts   Options
	logger *slog.Logger
}

// Connect opens the shared connection and verifies it with a ping.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	conn, err := proton.Open(opts.protonOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: opening connection to %s: %v", ErrTransport, opts.addr(), err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: pinging %s: %v", ErrTransport, opts.addr(), err)
	}
	return &Client{
		conn:   conn,
		opts:   opts,
		logger: slog.Default().With("component", "timeplus"),
	}, nil
}

// Close releases the shared connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping verifies the shared connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Execute runs a statement that produces no result set (DDL, DROP).
func (c *Client) Execute(ctx context.Context, query string) error {
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: executing statement: %v", ErrTransport, err)
	}
	return nil
}

// Query runs a bounded query and collects all rows. Callers must wrap
// stream names with table() themselves; an unbounded query here never
// returns.
func (c *Client) Query(ctx context.Context, query string) ([]Row, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: running query: %v", ErrTransport, err)
	}
	defer rows.Close()

	out, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	return out, rows.Err()
}

// Insert appends rows to a stream using a prepared batch.
func (c *Client) Insert(ctx context.Context, stream string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s)", stream, strings.Join(columns, ", "))
	batch, err := c.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return fmt.Errorf("%w: preparing insert into %s: %v", ErrTransport, stream, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("%w: appending row to %s batch: %v", ErrTransport, stream, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: sending %s batch: %v", ErrTransport, stream, err)
	}
	return nil
}

// Stream runs an unbounded query on a dedicated connection and
// delivers rows on the returned channel until ctx is cancelled or the
// query fails. The error channel is buffered so the goroutine never
// blocks on a departed reader; the row channel is unbuffered so slow
// consumers backpressure the tail.
func (c *Client) Stream(ctx context.Context, query string) (<-chan Row, <-chan error) {
	rowCh := make(chan Row)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		conn, err := proton.Open(c.opts.protonOptions())
		if err != nil {
			errCh <- fmt.Errorf("%w: opening streaming connection: %v", ErrTransport, err)
			return
		}
		defer conn.Close()

		rows, err := conn.Query(ctx, query)
		if err != nil {
			errCh <- fmt.Errorf("%w: starting streaming query: %v", ErrTransport, err)
			return
		}
		defer rows.Close()

		types := rows.ColumnTypes()
		names := rows.Columns()

		for rows.Next() {
			row, err := decodeRow(rows, names, types)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case rowCh <- row:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("%w: streaming query ended: %v", ErrTransport, err)
		}
	}()

	return rowCh, errCh
}

func collectRows(rows driver.Rows) ([]Row, error) {
	types := rows.ColumnTypes()
	names := rows.Columns()

	var out []Row
	for rows.Next() {
		row, err := decodeRow(rows, names, types)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// decodeRow scans the current row into fresh values of each column's
// scan type, then dereferences them into a Row map.
func decodeRow(rows driver.Rows, names []string, types []driver.ColumnType) (Row, error) {
	dest := make([]any, len(types))
	for i, ct := range types {
		dest[i] = reflect.New(ct.ScanType()).Interface()
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("%w: scanning row: %v", ErrTransport, err)
	}

	row := make(Row, len(names))
	for i, name := range names {
		row[name] = reflect.ValueOf(dest[i]).Elem().Interface()
	}
	return row, nil
}

// Quote escapes a string for embedding in a single-quoted SQL literal.
func Quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// FormatFloats renders a float32 slice as a SQL array literal for
// embedding vectors in similarity queries.
func FormatFloats(vals []float32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
