package types

import "time"

// Item is a stored value together with its replication metadata.
type Item struct {
	Key       string `msgpack:"key"`
	Value     []byte `msgpack:"value"`
	Version   uint64 `msgpack:"version"`
	Writer    string `msgpack:"writer"`
	Timestamp int64  `msgpack:"ts"`
}

func (it Item) WrittenAt() time.Time {
	return time.Unix(0, it.Timestamp)
}

// Newer reports whether a wins over b under last-writer-wins: higher write
// timestamp first, then higher version, then higher writer id.
func Newer(a, b Item) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Writer > b.Writer
}

// Latest returns the winning item among items. ok is false for an empty slice.
func Latest(items []Item) (best Item, ok bool) {
	for i, it := range items {
		if i == 0 || Newer(it, best) {
			best = it
			ok = true
		}
	}
	return best, ok
}
