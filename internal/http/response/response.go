// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков: успешные ответы, ошибки,
// сообщения валидации и отображение доменных ошибок в HTTP-статусы.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "gt":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		case "gte", "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "lte", "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

var domainErrors = []struct {
	err    error
	status int
	msg    string
}{
	{models.ErrInvalidArgument, http.StatusBadRequest, "invalid argument"},
	{models.ErrUnknownTariff, http.StatusBadRequest, "unknown tariff"},
	{models.ErrInvoiceRequired, http.StatusBadRequest, "invoice id is required"},
	{models.ErrPromoNotFound, http.StatusNotFound, "promo code not found"},
	{models.ErrNotFound, http.StatusNotFound, "not found"},
	{models.ErrPromoExhausted, http.StatusConflict, "promo code exhausted"},
	{models.ErrGiftAlreadyClaimed, http.StatusConflict, "gift already claimed"},
	{models.ErrLockContention, http.StatusConflict, "another operation for this user is in progress"},
	{models.ErrNotChannelMember, http.StatusForbidden, "subscribe to the news channel first"},
	{models.ErrPaymentPending, http.StatusPaymentRequired, "payment is not confirmed yet"},
	{models.ErrStorageUnavailable, http.StatusServiceUnavailable, "service temporarily unavailable"},
	{models.ErrProvisioning, http.StatusBadGateway, "vpn server is unavailable, try again later"},
}

// FromError возвращает HTTP-статус и ответ для доменной ошибки.
// Неизвестные ошибки отображаются в 500 без подробностей.
func FromError(err error) (int, Response) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, Error(d.msg)
		}
	}
	return http.StatusInternalServerError, Error("internal error")
}

// RenderError пишет ответ для доменной ошибки err.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := FromError(err)
	render.Status(r, status)
	render.JSON(w, r, resp)
}
