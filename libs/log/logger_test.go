package log_test

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/chainmon/substrate-exporter/libs/log"
)

func TestLoggerLogsItsErrors(t *testing.T) {
	var buf bytes.Buffer

	logger := log.NewLogger(&buf)
	logger.Info("foo", "baz baz", "bar")
	msg := strings.TrimSpace(buf.String())
	if !strings.Contains(msg, "foo") {
		t.Errorf("expected logger msg to contain ErrInvalidKey, got %s", msg)
	}
}

func TestFmtLogger(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	logger := log.NewFmtLogger(buf)

	if err := logger.Log("hello", "world"); err != nil {
		t.Fatal(err)
	}
	if want, have := `N\[.+\] unknown \s+ hello=world\n$`, buf.String(); !regexp.MustCompile(want).MatchString(have) {
		t.Errorf("want %q, have %q", want, have)
	}

	buf.Reset()
	if err := logger.Log("a", 1, "err", errors.New("error")); err != nil {
		t.Fatal(err)
	}
	if want, have := `N\[.+\] unknown \s+ a=1 err=error\n$`, buf.String(); !regexp.MustCompile(want).MatchString(have) {
		t.Errorf("want %q, have %q", want, have)
	}

	buf.Reset()
	if err := logger.Log("_msg", "Connected to node", "module", "chain", "endpoint", "ws://127.0.0.1:9944"); err != nil {
		t.Fatal(err)
	}
	if want, have := `N\[.+\] Connected to node \s+ module=chain endpoint=ws://127.0.0.1:9944\n$`, buf.String(); !regexp.MustCompile(want).MatchString(have) {
		t.Errorf("want %q, have %q", want, have)
	}

	buf.Reset()
	if err := logger.Log("hash", []byte("test me")); err != nil {
		t.Fatal(err)
	}
	if want, have := `N\[.+\] unknown \s+ hash=74657374206D65\n$`, buf.String(); !regexp.MustCompile(want).MatchString(have) {
		t.Errorf("want %q, have %q", want, have)
	}
}

func TestNopLogger(t *testing.T) {
	logger := log.NewNopLogger()
	logger.With("module", "chain").Info("ignored")
}

func TestLazySprintf(t *testing.T) {
	l := log.NewLazySprintf("block %d", 42)
	if l.String() != "block 42" {
		t.Fatalf("unexpected %q", l.String())
	}
}
