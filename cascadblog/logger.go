// Package cascadblog defines the logger collaborator named by the spec
// and a zap-backed default, matching the structured-logging convention
// used throughout the reference corpus's service code.
package cascadblog

import "go.uber.org/zap"

// Logger is the narrow surface every component takes at construction.
// Components must treat a nil Logger as "discard" rather than panic.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NewZap wraps a *zap.Logger (use zap.NewProduction()/zap.NewDevelopment()
// at the call site) as a Logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...any)   { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...any)   { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...any)  { z.sugar.Errorf(format, args...) }

// Nop is a Logger that discards everything. Used as the default when no
// logger is supplied to Open.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// orDefault returns l if non-nil, else Nop.
func orDefault(l Logger) Logger {
	if l == nil {
		return Nop
	}
	return l
}

// Of is exported so other packages can normalize a possibly-nil Logger
// field without duplicating the nil check.
func Of(l Logger) Logger { return orDefault(l) }
