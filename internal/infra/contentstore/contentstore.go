package contentstore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"decertify/internal/domain"
)

const digestPrefix = "sha256-"

// classifyStatus maps an HTTP status from a storage backend onto the store
// error classes. 413 and quota responses are fatal for the attempt, 429 and
// 5xx are retryable.
func classifyStatus(code int, body string) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}
	lower := strings.ToLower(msg)
	switch {
	case code == http.StatusRequestEntityTooLarge, code == http.StatusInsufficientStorage, strings.Contains(lower, "quota"):
		return fmt.Errorf("%w: status %d: %s", domain.ErrQuotaExceeded, code, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", domain.ErrNotFound, code)
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrStoreUnavailable, code, msg)
	default:
		return fmt.Errorf("content store responded %d: %s", code, msg)
	}
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

func digestKey(data []byte) string {
	return digestPrefix + domain.Digest(data)
}

func verifyDigest(key string, data []byte) error {
	if digestKey(data) != key {
		return errors.New("content does not match its identifier")
	}
	return nil
}
