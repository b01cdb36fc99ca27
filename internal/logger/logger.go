package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log инициализирован заранее, чтобы пакеты могли логировать до Init (например, в тестах).
var Log = logrus.New()

// Init настраивает структурированный логгер.
// В production используется JSON, в development — текстовый формат.
func Init(level string, production bool) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if production {
		Log.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Silence отключает вывод логов (используется в тестах).
func Silence() {
	Log.SetOutput(io.Discard)
}

// WithOrder возвращает запись с полем order_id.
func WithOrder(orderID string) *logrus.Entry {
	return Log.WithField("order_id", orderID)
}
