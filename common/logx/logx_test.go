package logx

import (
	"bytes"
	"strings"
	"testing"

	glogger "gorm.io/gorm/logger"
)

func TestParseLevelRecognizesAllNames(t *testing.T) {
	cases := map[string]Level{
		"trace": Trace, "debug": Debug, "info": Info,
		"warn": Warn, "warning": Warn, "off": Off, "silent": Off,
		"bogus": Error, "": Error,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelStringRoundTripsThroughParseLevel(t *testing.T) {
	for _, lvl := range []Level{Trace, Debug, Info, Warn, Error, Off} {
		if got := ParseLevel(lvl.String()); got != lvl {
			t.Fatalf("ParseLevel(%q.String()) = %v, want %v", lvl, got, lvl)
		}
	}
}

func TestSetLevelGatesLoggerOutput(t *testing.T) {
	origInfo, origErr := appInfoW, appErrW
	defer func() { appInfoW, appErrW = origInfo, origErr }()

	var buf bytes.Buffer
	appInfoW = &buf
	appErrW = &buf

	origLevel := GetLevel()
	defer SetLevel(origLevel)

	l := New(WithPrefix("test"))
	SetLevel(Warn)
	l.Infof("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected Infof to be suppressed at Warn level, got %q", buf.String())
	}

	SetLevel(Info)
	l.Infof("hello %s", "world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("expected Infof to be emitted at Info level, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "test") {
		t.Fatalf("expected the logger's prefix in output, got %q", buf.String())
	}
}

func TestLoggerOwnLevelOverridesGlobal(t *testing.T) {
	origInfo, origErr := appInfoW, appErrW
	defer func() { appInfoW, appErrW = origInfo, origErr }()
	var buf bytes.Buffer
	appInfoW, appErrW = &buf, &buf

	origLevel := GetLevel()
	defer SetLevel(origLevel)
	SetLevel(Off)

	l := New(WithLogLevel(Debug))
	l.Debugf("visible despite global Off")
	if !strings.Contains(buf.String(), "visible despite global Off") {
		t.Fatalf("expected a per-logger level override to win over the global level")
	}
}

func TestGinDetectClassifiesLevels(t *testing.T) {
	cases := []struct {
		line     string
		wantLvl  Level
		wantText string
	}{
		{"[GIN] 200 | 1ms | GET /x", Info, "200 | 1ms | GET /x"},
		{"[WARNING] some warning text", Warn, "some warning text"},
		{"[ERROR] boom", Error, "boom"},
		{"[GIN-debug] GET /path --> handler (1 handlers)", Debug, "GET /path --> handler (1 handlers)"},
	}
	for _, c := range cases {
		lvl, msg := ginDetect([]byte(c.line))
		if lvl != c.wantLvl {
			t.Fatalf("ginDetect(%q) level = %v, want %v", c.line, lvl, c.wantLvl)
		}
		if msg != c.wantText {
			t.Fatalf("ginDetect(%q) msg = %q, want %q", c.line, msg, c.wantText)
		}
	}
}

func TestToGormLevelMapping(t *testing.T) {
	if toGormLevel("silent") != glogger.Silent {
		t.Fatalf("expected silent to map to glogger.Silent")
	}
	if toGormLevel("error") == toGormLevel("warn") {
		t.Fatalf("expected error and warn to map to distinct gorm levels")
	}
}
