// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — упростить формирование структурированных полей лога,
// например, для передачи информации об ошибках и пользователе.
package sl

import (
	"io"
	"log/slog"
)

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
// Удобно использовать в логировании для единообразного вывода ошибок.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// User возвращает slog.Attr с идентификатором пользователя Telegram.
func User(userID int64) slog.Attr {
	return slog.Int64("user_id", userID)
}

// Invoice возвращает slog.Attr с идентификатором счёта.
func Invoice(invoiceID string) slog.Attr {
	return slog.String("invoice_id", invoiceID)
}

// New создаёт логгер по окружению: текстовый для local, JSON для остальных.
func New(env string, w io.Writer) *slog.Logger {
	if env == "local" {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
