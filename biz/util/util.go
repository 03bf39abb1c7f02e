package util

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("enter a valid Kenyan phone number (e.g. 0712345678)")

var (
	nonDigits   = regexp.MustCompile(`\D`)
	localMobile = regexp.MustCompile(`^0?[17]\d{8}$`)
	intlMobile  = regexp.MustCompile(`^254[17]\d{8}$`)
)

// NormalizePhone 统一为 Daraja 要求的 2547XXXXXXXX / 2541XXXXXXXX 格式
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case localMobile.MatchString(digits):
		return "254" + strings.TrimPrefix(digits, "0"), nil
	case intlMobile.MatchString(digits):
		return digits, nil
	}
	return "", ErrInvalidPhone
}

// MaskPhone 日志中隐藏号码中间位
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return "***"
	}
	return phone[:5] + "****" + phone[len(phone)-3:]
}
