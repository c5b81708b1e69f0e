package bybit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rustyeddy/trailguard/exchange"
)

// v5 return codes with a fixed classification.
const (
	codeParamError         = 10001
	codeInvalidAPIKey      = 10003
	codeInvalidSign        = 10004
	codePermissionDenied   = 10005
	codeRequestTimeout     = 10002
	codeTooManyVisits      = 10006
	codeServerError        = 10016
	codeIPRateLimit        = 10429
	codeOrderNotExists     = 110001
	codePositionModeNotMod = 110025
	codeOrderNotExistsUTA  = 170213
)

// classify maps a non-zero retCode to a classified error. Code 10001 is a
// generic parameter error; it only means a position-mode mismatch when the
// message talks about the position idx or mode.
func classify(op string, code int, msg string) error {
	kind := exchange.KindRejected
	switch code {
	case codeParamError:
		lm := strings.ToLower(msg)
		if strings.Contains(lm, "position idx") || strings.Contains(lm, "position mode") {
			kind = exchange.KindPositionModeMismatch
		}
	case codePositionModeNotMod:
		kind = exchange.KindPositionModeMismatch
	case codeOrderNotExists, codeOrderNotExistsUTA:
		kind = exchange.KindNotFound
	case codeRequestTimeout, codeTooManyVisits, codeServerError, codeIPRateLimit:
		kind = exchange.KindTransient
	case codeInvalidAPIKey, codeInvalidSign, codePermissionDenied:
		kind = exchange.KindAuth
	}
	return &exchange.Error{Kind: kind, Op: op, Code: strconv.Itoa(code), Message: msg}
}

// classifyHTTP catches failures that never reach the v5 envelope.
func classifyHTTP(op string, status int, body []byte) error {
	switch {
	case status >= 500:
		return &exchange.Error{Kind: exchange.KindTransient, Op: op, Code: strconv.Itoa(status), Message: snippet(body)}
	case status == http.StatusTooManyRequests:
		return &exchange.Error{Kind: exchange.KindTransient, Op: op, Code: strconv.Itoa(status), Message: "rate limited"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &exchange.Error{Kind: exchange.KindAuth, Op: op, Code: strconv.Itoa(status), Message: snippet(body)}
	case status >= 400:
		return &exchange.Error{Kind: exchange.KindRejected, Op: op, Code: strconv.Itoa(status), Message: snippet(body)}
	}
	return nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return fmt.Sprintf("%s...", s[:limit])
	}
	if s == "" {
		return "empty response"
	}
	return s
}
