/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a recording logger for asserting log output in tests.
package logtest

import (
	"sync"

	"github.com/ssgreg/logf"

	"github.com/acronis/watchtower/log"
)

// RecordedEntry is a logged message with its own and derived (logger's) fields.
type RecordedEntry struct {
	Level  log.Level
	Text   string
	Fields []log.Field
}

// FindField returns the last field with the given key, so a field added by With can be overridden per message.
func (re RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := len(re.Fields) - 1; i >= 0; i-- {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// StringField returns the value of a string field.
func (re RecordedEntry) StringField(key string) (string, bool) {
	field, ok := re.FindField(key)
	if !ok || field.Type != logf.FieldTypeBytesToString {
		return "", false
	}
	return string(field.Bytes), true
}

// IntField returns the value of an integer field.
func (re RecordedEntry) IntField(key string) (int64, bool) {
	field, ok := re.FindField(key)
	if !ok {
		return 0, false
	}
	switch field.Type {
	case logf.FieldTypeInt64, logf.FieldTypeInt32, logf.FieldTypeInt16, logf.FieldTypeInt8,
		logf.FieldTypeUint64, logf.FieldTypeUint32, logf.FieldTypeUint16, logf.FieldTypeUint8:
		return field.Int, true
	}
	return 0, false
}

type entryStore struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter passes entries by value
func (s *entryStore) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.DerivedFields)+len(e.Fields))
	fields = append(fields, e.DerivedFields...)
	fields = append(fields, e.Fields...)

	s.mu.Lock()
	s.entries = append(s.entries, RecordedEntry{Level: levelFromLogf(e.Level), Text: e.Text, Fields: fields})
	s.mu.Unlock()
}

// Recorder is a log.FieldLogger which keeps every entry in memory. Loggers derived by With share the entries.
type Recorder struct {
	*log.LogfAdapter
	store *entryStore
}

// NewRecorder returns a Recorder that records entries of all levels.
func NewRecorder() *Recorder {
	store := &entryStore{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, store)}, store: store}
}

// With returns a new Recorder with the given additional fields.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.With(fs...).(*log.LogfAdapter), store: r.store}
}

// WithLevel returns a new Recorder which drops entries below the given level.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), store: r.store}
}

// Entries returns a copy of the recorded entries in the order they were logged.
func (r *Recorder) Entries() []RecordedEntry {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return append([]RecordedEntry(nil), r.store.entries...)
}

// FindEntry returns the first entry with the given message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(entry RecordedEntry) bool {
		return entry.Text == msg
	})
}

// FindEntryByFilter returns the first entry matching the filter.
func (r *Recorder) FindEntryByFilter(filter func(entry RecordedEntry) bool) (RecordedEntry, bool) {
	for _, entry := range r.Entries() {
		if filter(entry) {
			return entry, true
		}
	}
	return RecordedEntry{}, false
}

func levelFromLogf(level logf.Level) log.Level {
	switch level {
	case logf.LevelError:
		return log.LevelError
	case logf.LevelWarn:
		return log.LevelWarn
	case logf.LevelDebug:
		return log.LevelDebug
	default:
		return log.LevelInfo
	}
}
