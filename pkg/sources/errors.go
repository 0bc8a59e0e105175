package sources

import "fmt"

// ErrorKind classifies a source failure.
type ErrorKind string

const (
	// KindUnsupported means the source cannot serve the data type.
	KindUnsupported ErrorKind = "unsupported"
	// KindNotFound means the source has no data for the symbol.
	KindNotFound ErrorKind = "not_found"
	// KindAPI covers transport and upstream API failures.
	KindAPI ErrorKind = "api"
)

// SourceError reports a failed fetch from one source.
type SourceError struct {
	Source   string
	DataType string
	Symbol   string
	Kind     ErrorKind
	Err      error
}

func (e *SourceError) Error() string {
	base := fmt.Sprintf("%s: %s %s for %s failed", e.Source, e.Kind, e.DataType, e.Symbol)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NoSourcesError reports that no enabled integration can serve a
// (symbol, data type) pair, so nothing was attempted.
type NoSourcesError struct {
	Symbol   string
	DataType string
}

func (e *NoSourcesError) Error() string {
	return fmt.Sprintf("no enabled integrations for %s %s", e.Symbol, e.DataType)
}

// AllSourcesError reports that every candidate source failed for a
// (symbol, data type) pair.
type AllSourcesError struct {
	Symbol   string
	DataType string
	Attempts []error
}

func (e *AllSourcesError) Error() string {
	return fmt.Sprintf("all sources failed for %s %s (%d attempts)",
		e.Symbol, e.DataType, len(e.Attempts))
}
