package rollout

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// noOverride is the reserved fingerprint for an empty override set.
const noOverride = "-"

// Fingerprint returns a deterministic identifier for an override set.
// Two overrides holding the same key/value pairs fingerprint identically
// regardless of entry order; an empty override always maps to "-".
func Fingerprint(o Override) string {
	if len(o) == 0 {
		return noOverride
	}
	entries := make([]string, len(o))
	for i, p := range o {
		entries[i] = fmt.Sprintf("%s\x00%s", p.Key, p.Value)
	}
	sort.Strings(entries)
	h := sha1.New()
	for _, e := range entries {
		io.WriteString(h, e)
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}
