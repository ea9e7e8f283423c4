package log

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
	"github.com/go-logfmt/logfmt"
)

type fmtEncoder struct {
	*logfmt.Encoder
	buf bytes.Buffer
}

func (l *fmtEncoder) Reset() {
	l.Encoder.Reset()
	l.buf.Reset()
}

var fmtEncoderPool = sync.Pool{
	New: func() interface{} {
		var enc fmtEncoder
		enc.Encoder = logfmt.NewEncoder(&enc.buf)
		return &enc
	},
}

type fmtLogger struct {
	w io.Writer
}

// NewFmtLogger returns a logger that encodes keyvals to the Writer in
// our custom format. Each log event produces no more than one call to
// w.Write. The passed Writer must be safe for concurrent use by multiple
// goroutines if the returned Logger will be used concurrently.
func NewFmtLogger(w io.Writer) kitlog.Logger {
	return &fmtLogger{w}
}

func (l fmtLogger) Log(keyvals ...interface{}) error {
	enc := fmtEncoderPool.Get().(*fmtEncoder)
	enc.Reset()
	defer fmtEncoderPool.Put(enc)

	const unknown = "unknown"
	lvl := "none"
	msg := unknown
	module := unknown

	// indexes of keys to skip while encoding later
	excludeIndexes := make([]int, 0)

	for i := 0; i < len(keyvals)-1; i += 2 {
		switch keyvals[i] {
		case kitlevel.Key():
			excludeIndexes = append(excludeIndexes, i)
			lvl = fmt.Sprint(keyvals[i+1])
		case msgKey:
			excludeIndexes = append(excludeIndexes, i)
			msg = fmt.Sprint(keyvals[i+1])
		// multiple modules may be set, the last one wins
		case moduleKey:
			excludeIndexes = append(excludeIndexes, i)
			module = fmt.Sprint(keyvals[i+1])
		}

		// Print []byte as a hexadecimal string (uppercased)
		if b, ok := keyvals[i+1].([]byte); ok {
			keyvals[i+1] = strings.ToUpper(hex.EncodeToString(b))
		}

		// Realize stringers
		if s, ok := keyvals[i+1].(fmt.Stringer); ok {
			keyvals[i+1] = s.String()
		}
	}

	// Form a custom line
	//
	// Example:
	//     I[2016-05-02|11:06:44.322] Connected to node                            module=chain endpoint=ws://...
	//
	// Description:
	//     I                            - first character of the level, uppercase (ASCII only)
	//     [2016-05-02|11:06:44.322]    - our time format (see https://golang.org/src/time/format.go)
	//     Connected to node            - message
	if lvl == "" {
		lvl = "none"
	}
	enc.buf.WriteString(fmt.Sprintf("%c[%s] %-44s ", strings.ToUpper(lvl)[0], time.Now().Format("2006-01-02|15:04:05.000"), msg))

	if module != unknown {
		enc.buf.WriteString("module=" + module + " ")
	}

KeyvalueLoop:
	for i := 0; i < len(keyvals)-1; i += 2 {
		for _, j := range excludeIndexes {
			if i == j {
				continue KeyvalueLoop
			}
		}

		err := enc.EncodeKeyval(keyvals[i], keyvals[i+1])
		if err == logfmt.ErrUnsupportedValueType {
			enc.EncodeKeyval(keyvals[i], fmt.Sprintf("%+v", keyvals[i+1])) //nolint:errcheck // no need to check error again
		} else if err != nil {
			return err
		}
	}

	// Add newline to the end of the buffer
	if err := enc.EndRecord(); err != nil {
		return err
	}

	// The Logger interface requires implementations to be safe for concurrent
	// use by multiple goroutines. For this implementation that means making
	// only one call to l.w.Write() for each call to Log.
	if _, err := l.w.Write(enc.buf.Bytes()); err != nil {
		return err
	}
	return nil
}
