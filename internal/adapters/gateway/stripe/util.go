package stripe

import (
	"strings"
	"time"
)

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func upper(currency string) string {
	return strings.ToUpper(currency)
}
