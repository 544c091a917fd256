package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/elimu/core"
)

// RollbarLogger reports to rollbar and mirrors every entry to std as a single key=value line.
// Debug entries are only mirrored when the app runs in debug mode.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	return &RollbarLogger{std: std, debug: conf.Debug}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry splits the args of a log call: an error, field maps, and at most one core.Person.
type entry struct {
	msg    string
	err    error
	person *core.Person
	fields map[string]interface{}
	extra  []interface{}
}

func newEntry(msg string, args []interface{}) entry {
	e := entry{msg: msg, fields: make(map[string]interface{})}
	for _, arg := range args {
		switch v := arg.(type) {
		case core.Person:
			if e.person == nil {
				p := v
				e.person = &p
			}
		case error:
			if e.err == nil {
				e.err = v
			} else {
				e.extra = append(e.extra, v)
			}
		case map[string]interface{}:
			for k, val := range v {
				e.fields[k] = val
			}
		case nil:
		default:
			e.extra = append(e.extra, v)
		}
	}
	return e
}

// report is what rollbar receives: msg, then the error and the merged fields.
func (e entry) report() []interface{} {
	out := []interface{}{e.msg}
	if e.err != nil {
		out = append(out, e.err)
	}
	if len(e.fields) > 0 {
		out = append(out, e.fields)
	}
	return out
}

func (e entry) line(level string) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(e.msg)
	if e.person != nil {
		fmt.Fprintf(&b, " user=%s", e.person.ID)
	}
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.fields[k])
	}
	for _, x := range e.extra {
		fmt.Fprintf(&b, " %v", x)
	}
	if e.err != nil {
		fmt.Fprintf(&b, " err=%q", e.err.Error())
	}
	return b.String()
}

func (l RollbarLogger) log(level string, send func(...interface{}), msg string, args []interface{}) entry {
	e := newEntry(msg, args)
	if e.person != nil {
		rollbar.SetPerson(e.person.ID, e.person.ID, e.person.Email)
	} else {
		rollbar.ClearPerson()
	}
	send(e.report()...)
	if level != "DEBUG" || l.debug {
		l.std.Println(e.line(level))
	}
	return e
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log("DEBUG", rollbar.Debug, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log("INFO", rollbar.Info, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log("WARN", rollbar.Warning, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log("ERROR", rollbar.Error, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := l.log("FATAL", rollbar.Critical, msg, args)
	rollbar.Wait()
	l.std.Fatal(e.msg)
}
