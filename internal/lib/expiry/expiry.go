// Package expiry содержит арифметику сроков подписки. Месяц подписки всегда
// равен 30 дням, сроки хранятся в миллисекундах с начала эпохи, как в панели.
package expiry

import (
	"math"
	"time"
)

const (
	// DayMillis — длительность суток в миллисекундах.
	DayMillis int64 = 24 * 60 * 60 * 1000
	// MonthMillis — длительность расчётного месяца (30 дней) в миллисекундах.
	MonthMillis = 30 * DayMillis
)

// MonthsToMillis переводит дробное количество месяцев в миллисекунды.
// Округление убирает ошибку float для значений вида days/30.
func MonthsToMillis(months float64) int64 {
	return int64(math.Round(months * float64(MonthMillis)))
}

// DaysToMonths переводит дни в дробные месяцы.
func DaysToMonths(days int) float64 {
	return float64(days) / 30
}

// Extend прибавляет срок к текущему значению. Истёкший срок не сдвигается к "сейчас".
func Extend(current int64, months float64) int64 {
	return current + MonthsToMillis(months)
}

// FromNow возвращает срок, отсчитанный от момента now.
func FromNow(now time.Time, months float64) int64 {
	return now.UnixMilli() + MonthsToMillis(months)
}

// Remaining раскладывает оставшееся время на дни, часы и минуты.
// Для истёкшей подписки возвращает нули.
func Remaining(now time.Time, expiryMillis int64) (days, hours, minutes int64) {
	left := expiryMillis - now.UnixMilli()
	if left <= 0 {
		return 0, 0, 0
	}
	days = left / DayMillis
	hours = (left % DayMillis) / (60 * 60 * 1000)
	minutes = (left % (60 * 60 * 1000)) / (60 * 1000)
	return days, hours, minutes
}
