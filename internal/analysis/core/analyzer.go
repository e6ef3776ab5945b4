package core

import (
	"go.uber.org/zap"
)

// AnalyzerType says whether a heuristic works only on data it is handed or
// may go to the network itself.
type AnalyzerType string

const (
	// TypePassive analyzers only inspect the response and document they are given.
	TypePassive AnalyzerType = "PASSIVE"
	// TypeNetwork analyzers may issue their own request when no response is supplied.
	TypeNetwork AnalyzerType = "NETWORK"
)

// BaseAnalyzer carries the identity shared by every heuristic. Embed it to
// get Name, Description and Type for free.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger
}

// NewBaseAnalyzer returns a BaseAnalyzer whose Logger is named after the analyzer.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name),
	}
}

func (b *BaseAnalyzer) Name() string        { return b.name }
func (b *BaseAnalyzer) Description() string { return b.description }
func (b *BaseAnalyzer) Type() AnalyzerType  { return b.analyzerType }
