package raft

import (
	"fmt"
	"log/slog"
	"os"

	etcdraft "go.etcd.io/raft/v3"
)

// raftLogger routes etcd raft's logging into slog.
type raftLogger struct {
	l *slog.Logger
}

var _ etcdraft.Logger = (*raftLogger)(nil)

func newRaftLogger(log *slog.Logger) *raftLogger {
	return &raftLogger{l: log.WithGroup("etcd")}
}

func (l *raftLogger) Debug(v ...any) { l.l.Debug(fmt.Sprint(v...)) }
func (l *raftLogger) Info(v ...any)  { l.l.Info(fmt.Sprint(v...)) }

func (l *raftLogger) Warning(v ...any) { l.l.Warn(fmt.Sprint(v...)) }
func (l *raftLogger) Error(v ...any)   { l.l.Error(fmt.Sprint(v...)) }

func (l *raftLogger) Debugf(format string, v ...any)   { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Infof(format string, v ...any)    { l.l.Info(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Warningf(format string, v ...any) { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l *raftLogger) Errorf(format string, v ...any)   { l.l.Error(fmt.Sprintf(format, v...)) }

// Fatal must not return; etcd raft relies on it terminating the process.
func (l *raftLogger) Fatal(v ...any) {
	l.l.Error(fmt.Sprint(v...))
	os.Exit(1)
}

func (l *raftLogger) Fatalf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *raftLogger) Panic(v ...any) {
	msg := fmt.Sprint(v...)
	l.l.Error(msg)
	panic(msg)
}

func (l *raftLogger) Panicf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	l.l.Error(msg)
	panic(msg)
}
