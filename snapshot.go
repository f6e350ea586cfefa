package cache

import (
	"fmt"
	"io"

	cbor "github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

// snapshot is the on-disk envelope for a warm-start dump.
type snapshot[K comparable, V any] struct {
	Version int          `cbor:"v"`
	Name    string       `cbor:"n,omitempty"`
	Items   []Item[K, V] `cbor:"i"`
}

var snapshotEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// WriteSnapshot encodes every live entry to w as CBOR, in eviction order.
// Keys and values must be CBOR-encodable.
func (c *PriorityCache[K, V]) WriteSnapshot(w io.Writer) error {
	items := c.Export(nil, 0)
	if err := encodeSnapshot(w, c.config.Name, items); err != nil {
		return err
	}
	c.logger.Debug("wrote cache snapshot", "entries", len(items))
	return nil
}

// ReadSnapshot decodes a dump produced by WriteSnapshot and imports it.
// Entries that expired in the meantime are skipped; the number left resident is returned.
func (c *PriorityCache[K, V]) ReadSnapshot(r io.Reader) (int, error) {
	items, err := decodeSnapshot[K, V](r, c.config.Name)
	if err != nil {
		return 0, err
	}
	if c.closed.Load() {
		return 0, newCacheError("restore", c.config.Name, ErrCacheClosed)
	}

	n := c.Import(items)
	c.logger.Debug("restored cache snapshot", "entries", n, "skipped", len(items)-n)
	return n, nil
}

func encodeSnapshot[K comparable, V any](w io.Writer, name string, items []Item[K, V]) error {
	snap := snapshot[K, V]{
		Version: snapshotVersion,
		Name:    name,
		Items:   items,
	}
	if err := snapshotEncMode.NewEncoder(w).Encode(snap); err != nil {
		return newCacheError("snapshot", name, err)
	}
	return nil
}

func decodeSnapshot[K comparable, V any](r io.Reader, name string) ([]Item[K, V], error) {
	var snap snapshot[K, V]
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, newCacheError("restore", name, err)
	}
	if snap.Version != snapshotVersion {
		return nil, newCacheError("restore", name,
			fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version))
	}
	return snap.Items, nil
}
