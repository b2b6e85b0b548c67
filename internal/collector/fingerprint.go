package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// Fingerprint derives the dedupe key for a message. Message-ID is globally
// unique when present; otherwise the sender/subject/date triple stands in,
// which collapses genuine resends but keeps distinct updates apart.
func Fingerprint(messageID, sender, subject string, date time.Time) string {
	h := sha256.New()
	if id := strings.TrimSpace(messageID); id != "" {
		io.WriteString(h, id)
	} else {
		fmt.Fprintf(h, "%s|%s|%s", sender, subject, date.UTC().Format(time.RFC3339))
	}
	return hex.EncodeToString(h.Sum(nil))
}
