package dataset

import (
	"context"

	"github.com/use-agent/pagesignal/scanner"
)

// CSVSink appends a batch's successes to the results file and, when
// ErrorLogPath is set, its failures to the error log.
type CSVSink struct {
	ResultsPath  string
	ErrorLogPath string
}

// Write implements scanner.Sink.
func (s *CSVSink) Write(ctx context.Context, b *scanner.Batch) error {
	if err := WriteResults(s.ResultsPath, b.Results); err != nil {
		return err
	}
	if s.ErrorLogPath == "" {
		return nil
	}
	return WriteErrorLog(s.ErrorLogPath, b.Errors)
}
