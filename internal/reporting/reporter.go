// Package reporting renders collection results, analysis reports and key
// listings for people (text) and machines (json, sarif).
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis"
	"github.com/xkilldash9x/siteprobe-cli/internal/collector"
	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
)

const (
	FormatJSON  = "json"
	FormatText  = "text"
	FormatSARIF = "sarif"
)

// ErrUnsupported is returned when a format cannot express a result type.
var ErrUnsupported = errors.New("result type not supported by this format")

// reportJSON keeps markup and non-ASCII characters readable.
var reportJSON = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

// Reporter writes results to an output.
type Reporter interface {
	WriteAnalysis(report *analysis.Report) error
	WriteCollection(result *collector.Result) error
	WriteKeys(keys []keyring.KeyRecord) error
	// Close flushes buffered output and closes the destination.
	Close() error
}

type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a reporter for format writing to outputPath, or to stdout
// when outputPath is empty or "stdout".
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatJSON, FormatText, FormatSARIF:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, toolVersion, logger)
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(format) {
	case FormatJSON:
		return &JSONReporter{writer: writer}, nil
	case FormatText:
		return &TextReporter{writer: writer}, nil
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion, logger), nil
	}
	return nil, fmt.Errorf("unsupported output format: %s", format)
}

// JSONReporter writes each result as its own indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
}

func (r *JSONReporter) write(v interface{}) error {
	payload, err := reportJSON.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	payload = append(payload, '\n')
	_, err = r.writer.Write(payload)
	return err
}

func (r *JSONReporter) WriteAnalysis(report *analysis.Report) error    { return r.write(report) }
func (r *JSONReporter) WriteCollection(result *collector.Result) error { return r.write(result) }
func (r *JSONReporter) WriteKeys(keys []keyring.KeyRecord) error {
	if keys == nil {
		keys = []keyring.KeyRecord{}
	}
	return r.write(keys)
}
func (r *JSONReporter) Close() error { return r.writer.Close() }
