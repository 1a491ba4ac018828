package logging

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Level is a worker log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelLog   Level = "log"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const serializedTag = "lser"

// Entry is a log entry crossing the worker boundary. A nil Message or Data
// means the entry had none.
type Entry struct {
	Level   Level
	Tags    []string
	Message *string
	Data    []interface{}
}

// MarshalJSON encodes the entry as ["lser", level, tags, message|null, data|null].
func (e Entry) MarshalJSON() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal([]interface{}{serializedTag, e.Level, tags, e.Message, e.Data})
}

// UnmarshalJSON decodes the tuple produced by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 5 {
		return fmt.Errorf("invalid log entry: expected 5 elements, got %d", len(tuple))
	}
	var tag string
	if err := json.Unmarshal(tuple[0], &tag); err != nil || tag != serializedTag {
		return fmt.Errorf("invalid log entry: missing %q tag", serializedTag)
	}
	var ret Entry
	if err := json.Unmarshal(tuple[1], &ret.Level); err != nil {
		return fmt.Errorf("invalid log entry level: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &ret.Tags); err != nil {
		return fmt.Errorf("invalid log entry tags: %w", err)
	}
	if err := json.Unmarshal(tuple[3], &ret.Message); err != nil {
		return fmt.Errorf("invalid log entry message: %w", err)
	}
	if err := json.Unmarshal(tuple[4], &ret.Data); err != nil {
		return fmt.Errorf("invalid log entry data: %w", err)
	}
	*e = ret
	return nil
}

// Serialize returns the wire form of entry.
func Serialize(entry Entry) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Deserialize parses the wire form of an entry.
func Deserialize(data string) (Entry, error) {
	var ret Entry
	err := json.Unmarshal([]byte(data), &ret)
	return ret, err
}

// Write re-emits entry through logger.
func Write(logger *zap.Logger, entry Entry, fields ...zap.Field) {
	message := ""
	if entry.Message != nil {
		message = *entry.Message
	}
	if len(entry.Tags) > 0 {
		fields = append(fields, zap.Strings("tags", entry.Tags))
	}
	if entry.Data != nil {
		fields = append(fields, zap.Any("data", entry.Data))
	}
	switch entry.Level {
	case LevelDebug:
		logger.Debug(message, fields...)
	case LevelWarn:
		logger.Warn(message, fields...)
	case LevelError:
		logger.Error(message, fields...)
	default:
		logger.Info(message, fields...)
	}
}
