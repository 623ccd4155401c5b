// Package logging provides logger creation.
package logging

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"

	"github.com/dekarrin/jellog"
	"github.com/grantdesk/grantdesk"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new logger of the given provider. If filename is blank, it will
// not log to disk, only stderr, and the stderr logger will be configured at
// trace level instead of info level.
func New(p grantdesk.LogProvider, filename string) (grantdesk.Logger, error) {
	var err error

	switch p {
	case grantdesk.NoLog:
		return nil, errors.New("log provider cannot be NoLog")
	case grantdesk.Jellog:
		var logOut *jellog.FileHandler
		if filename != "" {
			logOut, err = jellog.OpenFile(filename, nil)
			if err != nil {
				return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
			}
		}
		j := jellog.New(jellog.Defaults[string]().WithComponent("grantdesk"))

		if filename != "" {
			j.AddHandler(jellog.LvTrace, logOut)
			j.AddHandler(jellog.LvInfo, jellog.NewStderrHandler(nil))
		} else {
			j.AddHandler(jellog.LvTrace, jellog.NewStderrHandler(nil))
		}

		return jellogLogger{j: j}, nil
	case grantdesk.StdLog:
		var logWriter io.Writer = os.Stderr
		if filename != "" {
			fileWriter, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
			}
			logWriter = io.MultiWriter(os.Stderr, fileWriter)
		}
		return stdLogger{std: stdlog.New(logWriter, "", stdlog.Ldate|stdlog.Ltime|stdlog.LUTC)}, nil
	case grantdesk.Zap:
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		config.Sampling = nil
		if filename != "" {
			config.OutputPaths = []string{"stderr", filename}
		}
		z, err := config.Build()
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		return zapLogger{z: z.Named("grantdesk").Sugar()}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", p.String())
	}
}

// NoOpLogger is a logger that performs no operations.
type NoOpLogger struct{}

func (log NoOpLogger) Debug(msg string)                                {}
func (log NoOpLogger) Warn(msg string)                                 {}
func (log NoOpLogger) Trace(msg string)                                {}
func (log NoOpLogger) Info(msg string)                                 {}
func (log NoOpLogger) Error(msg string)                                {}
func (log NoOpLogger) Debugf(msg string, a ...interface{})             {}
func (log NoOpLogger) Warnf(msg string, a ...interface{})              {}
func (log NoOpLogger) Tracef(msg string, a ...interface{})             {}
func (log NoOpLogger) Infof(msg string, a ...interface{})              {}
func (log NoOpLogger) Errorf(msg string, a ...interface{})             {}
func (log NoOpLogger) ErrorBreak()                                     {}
func (log NoOpLogger) InfoBreak()                                      {}
func (log NoOpLogger) WarnBreak()                                      {}
func (log NoOpLogger) TraceBreak()                                     {}
func (log NoOpLogger) DebugBreak()                                     {}
func (log NoOpLogger) LogResult(req *http.Request, r grantdesk.Result) {}

type stdLogger struct {
	std *stdlog.Logger
}

func (log stdLogger) Trace(msg string) {
	log.std.Print("TRACE " + msg)
}

func (log stdLogger) Tracef(msg string, a ...interface{}) {
	log.std.Printf("TRACE "+msg, a...)
}

func (log stdLogger) TraceBreak() {
	log.std.Printf("")
}

func (log stdLogger) Debug(msg string) {
	log.std.Print("DEBUG " + msg)
}

func (log stdLogger) Debugf(msg string, a ...interface{}) {
	log.std.Printf("DEBUG "+msg, a...)
}

func (log stdLogger) DebugBreak() {
	log.std.Printf("")
}

func (log stdLogger) Info(msg string) {
	log.std.Print("INFO  " + msg)
}

func (log stdLogger) Infof(msg string, a ...interface{}) {
	log.std.Printf("INFO  "+msg, a...)
}

func (log stdLogger) InfoBreak() {
	log.std.Printf("")
}

func (log stdLogger) Warn(msg string) {
	log.std.Print("WARN  " + msg)
}

func (log stdLogger) Warnf(msg string, a ...interface{}) {
	log.std.Printf("WARN  "+msg, a...)
}

func (log stdLogger) WarnBreak() {
	log.std.Printf("")
}

func (log stdLogger) Error(msg string) {
	log.std.Print("ERROR " + msg)
}

func (log stdLogger) Errorf(msg string, a ...interface{}) {
	log.std.Printf("ERROR "+msg, a...)
}

func (log stdLogger) ErrorBreak() {
	log.std.Printf("")
}

func (log stdLogger) LogResult(req *http.Request, r grantdesk.Result) {
	logHTTPResponse(log, req, r)
}

type jellogLogger struct {
	j jellog.Logger[string]
}

func (log jellogLogger) Debug(msg string) {
	log.j.Debug(msg)
}

func (log jellogLogger) Debugf(msg string, a ...interface{}) {
	log.j.Debugf(msg, a...)
}

func (log jellogLogger) Warn(msg string) {
	log.j.Warn(msg)
}

func (log jellogLogger) Warnf(msg string, a ...interface{}) {
	log.j.Warnf(msg, a...)
}

func (log jellogLogger) Trace(msg string) {
	log.j.Trace(msg)
}

func (log jellogLogger) Tracef(msg string, a ...interface{}) {
	log.j.Tracef(msg, a...)
}

func (log jellogLogger) Info(msg string) {
	log.j.Info(msg)
}

func (log jellogLogger) Infof(msg string, a ...interface{}) {
	log.j.Infof(msg, a...)
}

func (log jellogLogger) Error(msg string) {
	log.j.Error(msg)
}

func (log jellogLogger) Errorf(msg string, a ...interface{}) {
	log.j.Errorf(msg, a...)
}

func (log jellogLogger) ErrorBreak() {
	log.j.InsertBreak(jellog.LvError)
}

func (log jellogLogger) InfoBreak() {
	log.j.InsertBreak(jellog.LvInfo)
}

func (log jellogLogger) WarnBreak() {
	log.j.InsertBreak(jellog.LvWarn)
}

func (log jellogLogger) TraceBreak() {
	log.j.InsertBreak(jellog.LvTrace)
}

func (log jellogLogger) DebugBreak() {
	log.j.InsertBreak(jellog.LvDebug)
}

func (log jellogLogger) LogResult(req *http.Request, r grantdesk.Result) {
	logHTTPResponse(log, req, r)
}

// zapLogger maps trace onto zap's debug level; zap has no level below it and
// no notion of a break, so the *Break calls do nothing.
type zapLogger struct {
	z *zap.SugaredLogger
}

func (log zapLogger) Debug(msg string) {
	log.z.Debug(msg)
}

func (log zapLogger) Debugf(msg string, a ...interface{}) {
	log.z.Debugf(msg, a...)
}

func (log zapLogger) Warn(msg string) {
	log.z.Warn(msg)
}

func (log zapLogger) Warnf(msg string, a ...interface{}) {
	log.z.Warnf(msg, a...)
}

func (log zapLogger) Trace(msg string) {
	log.z.Debugw(msg, "trace", true)
}

func (log zapLogger) Tracef(msg string, a ...interface{}) {
	log.z.Debugw(fmt.Sprintf(msg, a...), "trace", true)
}

func (log zapLogger) Info(msg string) {
	log.z.Info(msg)
}

func (log zapLogger) Infof(msg string, a ...interface{}) {
	log.z.Infof(msg, a...)
}

func (log zapLogger) Error(msg string) {
	log.z.Error(msg)
}

func (log zapLogger) Errorf(msg string, a ...interface{}) {
	log.z.Errorf(msg, a...)
}

func (log zapLogger) ErrorBreak() {}
func (log zapLogger) InfoBreak()  {}
func (log zapLogger) WarnBreak()  {}
func (log zapLogger) TraceBreak() {}
func (log zapLogger) DebugBreak() {}

func (log zapLogger) LogResult(req *http.Request, r grantdesk.Result) {
	fields := []interface{}{
		"remote", remoteIP(req),
		"method", req.Method,
		"path", req.URL.Path,
		"status", r.Status,
	}
	if r.IsErr {
		log.z.Errorw(r.InternalMsg, fields...)
	} else {
		log.z.Infow(r.InternalMsg, fields...)
	}
}

func logHTTPResponse(log grantdesk.Logger, req *http.Request, r grantdesk.Result) {
	if r.IsErr {
		log.Errorf("%s %s %s: HTTP-%d %s", remoteIP(req), req.Method, req.URL.Path, r.Status, r.InternalMsg)
	} else {
		log.Infof("%s %s %s: HTTP-%d %s", remoteIP(req), req.Method, req.URL.Path, r.Status, r.InternalMsg)
	}
}

// we don't really care about the ephemeral port from the client end
func remoteIP(req *http.Request) string {
	remoteAddrParts := strings.SplitN(req.RemoteAddr, ":", 2)
	return remoteAddrParts[0]
}
