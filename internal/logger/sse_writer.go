package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
)

const defaultTimeFormat = time.Kitchen

// SSEPublisher is the part of the sse server the writer needs.
type SSEPublisher interface {
	Publish(topic string, event *sse.Event)
}

// LogMessage is the JSON payload pushed to the "logs" SSE stream.
type LogMessage struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (lm LogMessage) Bytes() ([]byte, error) {
	return json.Marshal(lm)
}

// SSEWriter renders zerolog JSON events into console-style log lines and
// publishes them to connected event-stream clients.
type SSEWriter struct {
	SSE        SSEPublisher
	TimeFormat string
	PartsOrder []string
}

func NewSSEWriter(pub SSEPublisher, options ...func(w *SSEWriter)) SSEWriter {
	w := SSEWriter{
		SSE:        pub,
		TimeFormat: defaultTimeFormat,
		PartsOrder: defaultPartsOrder(),
	}

	for _, opt := range options {
		opt(&w)
	}

	return w
}

func (w SSEWriter) Write(p []byte) (int, error) {
	if w.SSE == nil {
		return 0, nil
	}

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return 0, fmt.Errorf("cannot decode log event: %w", err)
	}

	var buf bytes.Buffer
	for _, part := range w.PartsOrder {
		// time and level travel as dedicated message fields
		if part == zerolog.TimestampFieldName || part == zerolog.LevelFieldName {
			continue
		}
		w.writePart(&buf, evt, part)
	}
	w.writeFields(&buf, evt)

	msg := LogMessage{
		Time:    defaultFormatTimestamp(w.TimeFormat)(evt[zerolog.TimestampFieldName]),
		Level:   defaultFormatLevel()(evt[zerolog.LevelFieldName]),
		Message: strings.TrimSpace(buf.String()),
	}

	data, err := msg.Bytes()
	if err != nil {
		return 0, err
	}

	w.SSE.Publish("logs", &sse.Event{Data: data})

	return len(p), nil
}

func (w SSEWriter) writePart(buf *bytes.Buffer, evt map[string]interface{}, part string) {
	var s string

	switch part {
	case zerolog.TimestampFieldName:
		s = defaultFormatTimestamp(w.TimeFormat)(evt[part])
	case zerolog.LevelFieldName:
		s = defaultFormatLevel()(evt[part])
	case zerolog.CallerFieldName:
		if v, ok := evt[part]; ok {
			s = defaultFormatCaller()(v)
		}
	case zerolog.MessageFieldName:
		s = defaultFormatMessage(evt[part])
	default:
		if v, ok := evt[part]; ok {
			s = defaultFormatFieldValue(v)
		}
	}

	if s != "" {
		buf.WriteString(s)
		buf.WriteByte(' ')
	}
}

func (w SSEWriter) writeFields(buf *bytes.Buffer, evt map[string]interface{}) {
	var fields []string
	for name := range evt {
		switch name {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}

		value := defaultFormatFieldValue(evt[name])
		if needsQuote(value) {
			value = strconv.Quote(value)
		}

		if name == zerolog.ErrorFieldName {
			buf.WriteString(defaultFormatErrFieldName()(name))
			buf.WriteString(defaultFormatErrFieldValue()(value))
		} else {
			buf.WriteString(defaultFormatFieldName()(name))
			buf.WriteString(value)
		}
	}
}

func defaultPartsOrder() []string {
	return []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
}

func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

func defaultFormatTimestamp(timeFormat string) func(interface{}) string {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	return func(i interface{}) string {
		t := "<nil>"
		switch tt := i.(type) {
		case string:
			ts, err := time.ParseInLocation(zerolog.TimeFieldFormat, tt, time.Local)
			if err != nil {
				t = tt
			} else {
				t = ts.Local().Format(timeFormat)
			}
		case json.Number:
			if i64, err := tt.Int64(); err == nil {
				t = time.Unix(i64, 0).Format(timeFormat)
			}
		}
		return t
	}
}

func defaultFormatLevel() func(interface{}) string {
	return func(i interface{}) string {
		if ll, ok := i.(string); ok {
			switch ll {
			case zerolog.LevelTraceValue:
				return "TRC"
			case zerolog.LevelDebugValue:
				return "DBG"
			case zerolog.LevelInfoValue:
				return "INF"
			case zerolog.LevelWarnValue:
				return "WRN"
			case zerolog.LevelErrorValue:
				return "ERR"
			case zerolog.LevelFatalValue:
				return "FTL"
			case zerolog.LevelPanicValue:
				return "PNC"
			default:
				return ll
			}
		}
		return "???"
	}
}

func defaultFormatCaller() func(interface{}) string {
	return func(i interface{}) string {
		c, _ := i.(string)
		if c == "" {
			return ""
		}
		if cwd, err := os.Getwd(); err == nil {
			if rel, err := filepath.Rel(cwd, c); err == nil {
				c = rel
			}
		}
		return c + " >"
	}
}

func defaultFormatMessage(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}

func defaultFormatFieldName() func(interface{}) string {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatFieldValue(i interface{}) string {
	return fmt.Sprintf("%v", i)
}

func defaultFormatErrFieldName() func(interface{}) string {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatErrFieldValue() func(interface{}) string {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}
