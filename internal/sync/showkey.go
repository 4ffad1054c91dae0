package sync

import (
	"fmt"
	"hash/fnv"
	"log"
)

// ResolveShowKey returns the key velocity rows are stored under: the show's
// ratingKey when one is associable, otherwise a deterministic 32-bit hash of
// the title. The hash fallback is a known correctness hazard (collisions,
// rename drift) kept for compatibility, so every use of it is logged.
func ResolveShowKey(showRatingKey, showTitle string) string {
	if showRatingKey != "" {
		return showRatingKey
	}
	h := fnv.New32a()
	h.Write([]byte(showTitle))
	key := fmt.Sprintf("title:%08x", h.Sum32())
	log.Printf("sync: no rating key for show %q, falling back to title hash %s", showTitle, key)
	return key
}
