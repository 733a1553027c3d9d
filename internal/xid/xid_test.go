package xid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceiptNumberFormat(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	number := ReceiptNumber(at)

	assert.Regexp(t, regexp.MustCompile(`^R1700000000123[0-9A-F]{5}$`), number)
}

func TestReceiptNumbersDifferWithinTheSameMillisecond(t *testing.T) {
	at := time.Now()
	seen := make(map[string]struct{}, 50)
	for i := 0; i < 50; i++ {
		seen[ReceiptNumber(at)] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}
