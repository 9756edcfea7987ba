// Package names generates agent names when registration omits one.
// Generation is a pure function of (bucket, attempt) so collision retries
// walk a deterministic sequence and tests can pin the output.
package names

import (
	"fmt"
	"hash/fnv"
	"time"
)

var adjectives = []string{
	"amber", "ancient", "bold", "brisk", "calm", "candid", "clever",
	"copper", "crimson", "curious", "daring", "deft", "eager", "earnest",
	"fleet", "frank", "gentle", "golden", "hardy", "honest", "keen",
	"lively", "lucid", "mellow", "nimble", "patient", "placid", "plucky",
	"proud", "quiet", "rapid", "rustic", "shrewd", "silent", "sincere",
	"solemn", "stable", "steady", "swift", "tidy", "umber", "upbeat",
	"valiant", "vivid", "wary", "witty", "zealous",
}

var nouns = []string{
	"badger", "beacon", "birch", "bison", "brook", "cedar", "comet",
	"condor", "coral", "crane", "delta", "ember", "falcon", "fjord",
	"gannet", "glacier", "harbor", "heron", "ibis", "jackal", "kestrel",
	"lagoon", "lark", "lynx", "marten", "meadow", "merlin", "mesa",
	"otter", "owl", "petrel", "pine", "plover", "prairie", "quartz",
	"raven", "reef", "sable", "sparrow", "spruce", "summit", "swallow",
	"tarn", "teal", "thicket", "walnut", "wren",
}

// BucketSize groups registration times so retries within the same window
// stay on one deterministic walk.
const BucketSize = time.Minute

// Generate returns the candidate name for the given time bucket and
// attempt index.
func Generate(bucket int64, attempt int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", bucket, attempt)
	sum := h.Sum64()
	adj := adjectives[sum%uint64(len(adjectives))]
	noun := nouns[(sum/uint64(len(adjectives)))%uint64(len(nouns))]
	return adj + "-" + noun
}

// Bucket maps a wall-clock time to its generation bucket.
func Bucket(t time.Time) int64 {
	return t.UTC().Truncate(BucketSize).Unix()
}
