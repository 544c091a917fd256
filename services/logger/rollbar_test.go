package logsvc

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/elimu/core"
)

func newTestLogger(debug bool) (*RollbarLogger, *bytes.Buffer) {
	var out bytes.Buffer
	conf := core.NewTestConfig()
	conf.Debug = debug
	return NewRollbarLogger(log.New(&out, "", 0), conf), &out
}

func TestRollbarLogger_line(t *testing.T) {
	tests := []struct {
		name string
		log  func(l *RollbarLogger)
		want string
	}{
		{
			name: "message only",
			log:  func(l *RollbarLogger) { l.Info("server started") },
			want: "INFO: server started",
		},
		{
			name: "fields are sorted",
			log: func(l *RollbarLogger) {
				l.Warn("retrying task", map[string]interface{}{"task": "email", "attempt": 2})
			},
			want: "WARN: retrying task attempt=2 task=email",
		},
		{
			name: "person error and merged fields",
			log: func(l *RollbarLogger) {
				l.Error("granting entitlement",
					errors.New("db down"),
					map[string]interface{}{"product": "b1"},
					core.Person{ID: "u1", Email: "u1@test.test"},
					map[string]interface{}{"type": "both"},
					core.Person{ID: "u2"},
				)
			},
			want: `ERROR: granting entitlement user=u1 product=b1 type=both err="db down"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, out := newTestLogger(false)
			tt.log(l)
			assert.Equal(t, tt.want, strings.TrimSpace(out.String()))
		})
	}
}

func TestRollbarLogger_Debug(t *testing.T) {
	l, out := newTestLogger(false)
	l.Debug("cache miss", map[string]interface{}{"key": "k1"})
	assert.Empty(t, out.String())

	l, out = newTestLogger(true)
	l.Debug("cache miss", map[string]interface{}{"key": "k1"})
	assert.Equal(t, "DEBUG: cache miss key=k1", strings.TrimSpace(out.String()))
}

func TestNewEntry(t *testing.T) {
	err1, err2 := errors.New("first"), errors.New("second")
	e := newEntry("msg", []interface{}{nil, err1, err2, 42, core.Person{ID: "u1"}})

	assert.Equal(t, err1, e.err)
	assert.Equal(t, []interface{}{err2, 42}, e.extra)
	if assert.NotNil(t, e.person) {
		assert.Equal(t, "u1", e.person.ID)
	}
	assert.Equal(t, []interface{}{"msg", err1}, e.report())
}
