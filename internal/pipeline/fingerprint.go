package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// Fingerprint identifies an alert by its rule and the exact records that
// produced it. Equal inputs digest to the same value; external identities
// are sorted so their fetch order does not matter.
func Fingerprint(ruleID string, app *MetricRecord, externals []MetricRecord, windowStart int64) string {
	h := sha256.New()
	io.WriteString(h, ruleID)
	if app != nil {
		fmt.Fprintf(h, "|%s:%s:%d", app.Source, app.Key, app.Timestamp)
	}
	identities := make([]string, 0, len(externals))
	for _, ext := range externals {
		identities = append(identities, fmt.Sprintf("%s:%d", ext.Key, ext.Timestamp))
	}
	sort.Strings(identities)
	for _, identity := range identities {
		io.WriteString(h, "|"+identity)
	}
	fmt.Fprintf(h, "|%d", windowStart)
	return hex.EncodeToString(h.Sum(nil))
}
