// Package builtin provides a minimal reference plugin set — a JSONL
// file source and sink, a passthrough transform and a CEL gate — so `validate`/`run`
// have something concrete to execute. Production plugins (CSV readers,
// LLM clients, HTTP scrapers, blob I/O) are out of scope here: only the
// protocol matters.
package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/schema"
)

// JSONLSource reads one JSON object per line from a file.
type JSONLSource struct {
	onValidationFailure string
	file                *os.File
	scanner             *bufio.Scanner
}

// NewJSONLSource opens path for line-delimited JSON reading. options:
// "path" (string, required), "on_validation_failure" (string, optional,
// default "discard").
func NewJSONLSource(options map[string]any) (plugin.Source, error) {
	path, _ := options["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("jsonl source: \"path\" option is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl source: open %s: %w", path, err)
	}
	onFail, _ := options["on_validation_failure"].(string)
	if onFail == "" {
		onFail = "discard"
	}
	return &JSONLSource{
		onValidationFailure: onFail,
		file:                f,
		scanner:             bufio.NewScanner(f),
	}, nil
}

func (s *JSONLSource) Name() string                 { return "jsonl" }
func (s *JSONLSource) OutputSchema() *schema.Schema { return nil } // dynamic
func (s *JSONLSource) OnValidationFailure() string  { return s.onValidationFailure }

// Load reads and unmarshals the next non-empty line. On exhaustion it
// closes the file and returns ok=false.
func (s *JSONLSource) Load(ctx context.Context) (plugin.Row, bool, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row plugin.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, false, fmt.Errorf("jsonl source: decode line: %w", err)
		}
		return row, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("jsonl source: scan: %w", err)
	}
	s.file.Close()
	return nil, false, nil
}

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	file *os.File
	w    *bufio.Writer
}

// NewJSONLSink opens (creating/truncating) path for line-delimited JSON
// writing. options: "path" (string, required).
func NewJSONLSink(options map[string]any) (plugin.Sink, error) {
	path, _ := options["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("jsonl sink: \"path\" option is required")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl sink: create %s: %w", path, err)
	}
	return &JSONLSink{file: f, w: bufio.NewWriter(f)}, nil
}

func (s *JSONLSink) Name() string                 { return "jsonl" }
func (s *JSONLSink) InputSchema() *schema.Schema  { return nil } // dynamic
func (s *JSONLSink) Idempotent() bool             { return false }
func (s *JSONLSink) Determinism() plugin.Determinism { return plugin.IODependent }

func (s *JSONLSink) Write(ctx *plugin.Context, row plugin.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("jsonl sink: encode row: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("jsonl sink: write: %w", err)
	}
	return s.w.WriteByte('\n')
}

func (s *JSONLSink) Flush(ctx context.Context) error {
	return s.w.Flush()
}

func (s *JSONLSink) Close(ctx context.Context) error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
