package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key layout:
//
//	gen/<name>/<resource key>  cached Entry
//	reg/<name>                 generation record
//	meta/active                name of the active generation
const (
	genPrefix = "gen/"
	regPrefix = "reg/"
	activeKey = "meta/active"
)

// Entry is one cached response.
type Entry struct {
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	CachedAt    time.Time `json:"cached_at"`
}

// Record describes an installed generation.
type Record struct {
	Name        string    `json:"name"`
	Keys        []string  `json:"keys"`
	InstalledAt time.Time `json:"installed_at"`
}

// Storage persists generations in pebble.
type Storage struct {
	db *pebble.DB
}

// OpenStorage opens (or creates) the cache database at dir.
func OpenStorage(dir string) (*Storage, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Storage{db: db}, nil
}

// OpenMemStorage opens an in-memory cache database.
func OpenMemStorage() (*Storage, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func entryKey(gen, key string) []byte { return []byte(genPrefix + gen + "/" + key) }

// genBounds spans every entry of gen. '0' sorts right after '/'.
func genBounds(gen string) (lower, upper []byte) {
	return []byte(genPrefix + gen + "/"), []byte(genPrefix + gen + "0")
}

// WriteGeneration stores all entries and the generation record in one
// synchronous batch. Either everything lands or nothing does.
func (s *Storage) WriteGeneration(rec Record, entries map[string]Entry) error {
	b := s.db.NewBatch()
	defer b.Close()

	lower, upper := genBounds(rec.Name)
	// a half-finished earlier attempt under the same name must not survive
	if err := b.DeleteRange(lower, upper, nil); err != nil {
		return err
	}
	for k, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Set(entryKey(rec.Name, k), raw, nil); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := b.Set([]byte(regPrefix+rec.Name), raw, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// PutEntry caches a single entry into an existing generation.
func (s *Storage) PutEntry(gen, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Set(entryKey(gen, key), raw, pebble.Sync)
}

// GetEntry returns errMiss when the key is not cached in gen.
func (s *Storage) GetEntry(gen, key string) (Entry, error) {
	v, closer, err := s.db.Get(entryKey(gen, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, errMiss
	}
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()

	var e Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, nil
}

// Generations lists the recorded generation names in key order.
func (s *Storage) Generations() ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(regPrefix),
		UpperBound: []byte("reg0"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	for ok := it.First(); ok; ok = it.Next() {
		names = append(names, string(it.Key()[len(regPrefix):]))
	}
	return names, it.Error()
}

// CountEntries returns how many entries gen holds.
func (s *Storage) CountEntries(gen string) (int, error) {
	lower, upper := genBounds(gen)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, it.Error()
}

// Active returns the recorded active generation, or "" if none.
func (s *Storage) Active() (string, error) {
	v, closer, err := s.db.Get([]byte(activeKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// Activate records name as active and deletes every other generation, in one batch.
// It returns the names it deleted.
func (s *Storage) Activate(name string) ([]string, error) {
	names, err := s.Generations()
	if err != nil {
		return nil, err
	}

	b := s.db.NewBatch()
	defer b.Close()

	var dropped []string
	for _, g := range names {
		if g == name {
			continue
		}
		lower, upper := genBounds(g)
		if err := b.DeleteRange(lower, upper, nil); err != nil {
			return nil, err
		}
		if err := b.Delete([]byte(regPrefix+g), nil); err != nil {
			return nil, err
		}
		dropped = append(dropped, g)
	}
	if err := b.Set([]byte(activeKey), []byte(name), nil); err != nil {
		return nil, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, err
	}
	return dropped, nil
}
