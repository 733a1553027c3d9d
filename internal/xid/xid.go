package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReceiptNumber renders "R" followed by the unix millisecond timestamp and
// five random hex characters.
func ReceiptNumber(at time.Time) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("R%d%05d", at.UnixMilli(), at.Nanosecond()%100000)
	}
	return fmt.Sprintf("R%d%s", at.UnixMilli(), strings.ToUpper(id.String()[:5]))
}

func RequestID() string {
	return uuid.NewString()
}
