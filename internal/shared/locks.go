package shared

import (
	"hash/fnv"
	"strconv"
)

// AdvisoryLockKey derives the pg_advisory_xact_lock key guarding one record of a kind.
func AdvisoryLockKey(kind string, id int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatInt(id, 10)))
	return int64(h.Sum64())
}
