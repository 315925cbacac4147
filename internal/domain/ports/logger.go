package ports

import (
	"time"

	"github.com/shopspring/decimal"
)

// Logger is the structured logger the services write to. Adapters at the
// edge log through zap directly.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
}

// Field is one key/value pair of a log entry
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Time logs t in UTC
func Time(key string, t time.Time) Field {
	return Field{Key: key, Value: t.UTC()}
}

func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d}
}

// Money logs an amount with two decimal places, never as a float
func Money(key string, amount decimal.Decimal) Field {
	return Field{Key: key, Value: amount.StringFixed(2)}
}

// Err logs err under the "error" key
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
