// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package elog provides leveled logging for the agent.
//
// Time/Date are not logged by default because systemd adds them for us;
// output carries the systemd syslog priority prefix convention
// (https://www.freedesktop.org/software/systemd/man/sd-daemon.html).
package elog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	DebugPrefix = "<7>[DEBUG]   "
	InfoPrefix  = "<6>[INFO]    "
	WarnPrefix  = "<4>[WARNING] "
	ErrPrefix   = "<3>[ERROR]   "
)

var (
	debugLog = log.New(DebugWriter, DebugPrefix, 0)
	infoLog  = log.New(InfoWriter, InfoPrefix, 0)
	warnLog  = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	errLog   = log.New(ErrWriter, ErrPrefix, log.Lshortfile)
)

// SetLevel configures the minimum level that is actually written. Valid
// values: "debug", "info", "warn", "err"/"error"/"fatal". Anything else
// falls back to "info" and prints a one-time complaint.
func SetLevel(lvl string) {
	switch lvl {
	case "err", "error", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn", "warning":
		InfoWriter = io.Discard
		fallthrough
	case "info", "":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Fprintf(os.Stderr, "elog: unknown log_level %q, using info\n", lvl)
		SetLevel("info")
		return
	}
	debugLog = log.New(DebugWriter, DebugPrefix, 0)
	infoLog = log.New(InfoWriter, InfoPrefix, 0)
	warnLog = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	errLog = log.New(ErrWriter, ErrPrefix, log.Lshortfile)
}

func Debug(v ...interface{}) {
	if DebugWriter != io.Discard {
		debugLog.Output(2, fmt.Sprint(v...))
	}
}

func Debugf(format string, v ...interface{}) {
	if DebugWriter != io.Discard {
		debugLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Info(v ...interface{}) {
	if InfoWriter != io.Discard {
		infoLog.Output(2, fmt.Sprint(v...))
	}
}

func Infof(format string, v ...interface{}) {
	if InfoWriter != io.Discard {
		infoLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warn(v ...interface{}) {
	if WarnWriter != io.Discard {
		warnLog.Output(2, fmt.Sprint(v...))
	}
}

func Warnf(format string, v ...interface{}) {
	if WarnWriter != io.Discard {
		warnLog.Output(2, fmt.Sprintf(format, v...))
	}
}

func Error(v ...interface{}) {
	if ErrWriter != io.Discard {
		errLog.Output(2, fmt.Sprint(v...))
	}
}

func Errorf(format string, v ...interface{}) {
	if ErrWriter != io.Discard {
		errLog.Output(2, fmt.Sprintf(format, v...))
	}
}

// Fatal logs at error level and terminates the process. Reserved for
// startup failures (ConfigInvalid, listener bind failure).
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
