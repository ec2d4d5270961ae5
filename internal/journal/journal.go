// Package journal records event channel envelopes to an append-only file.
// Each line holds one record: JSON, zstd-compressed, base64url-encoded, so
// a truncated tail only loses its last line.
package journal

import (
	"bufio"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"tether/internal/types"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

var enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
var dec, _ = zstd.NewReader(nil)

// maxLine bounds a single encoded record.
const maxLine = 4 << 20

type Record struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
}

// EncodeRecord encodes the record as JSON, compresses and base64-url encodes it.
func EncodeRecord(r Record) (string, error) {
	s, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	b := enc.EncodeAll(s, make([]byte, 0, len(s)))
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(in string) (Record, error) {
	var r Record
	b, err := base64.RawURLEncoding.DecodeString(in)
	if err != nil {
		return r, types.Err(types.ErrMalformedPayload, err, "")
	}
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return r, types.Err(types.ErrMalformedPayload, err, "")
	}
	if err := json.Unmarshal(out, &r); err != nil {
		return r, types.Err(types.ErrMalformedPayload, err, "")
	}
	return r, nil
}

// Writer appends records. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// Open opens (or creates) the journal at path for appending.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Writer{w: bufio.NewWriter(f), c: f}, nil
}

// NewWriter writes to w; Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Append writes env as one record stamped with the current time and flushes.
func (w *Writer) Append(env types.Envelope) error {
	line, err := EncodeRecord(Record{At: time.Now().UTC(), Type: env.Type, Payload: env.Payload})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.WriteString(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.w.Flush()
	if w.c != nil {
		err = errors.Join(err, w.c.Close())
	}
	return err
}

// Reader iterates the records of a journal.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next record, or io.EOF after the last one. Blank lines
// are skipped.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			continue
		}
		return DecodeRecord(line)
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// ReadFile returns every record in the journal at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
