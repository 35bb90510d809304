// Package keyring implements the encrypted on-disk key-id-to-symmetric-key
// map described in SPEC_FULL.md §4.3: a TOML document whose entries are
// base64(nonce ‖ secretbox(key)) under a master key derived from a
// (password, salt) pair via Argon2i at interactive cost.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the size in bytes of a symmetric blob key.
	KeySize = 32
	// nonceSize is the secretbox nonce size.
	nonceSize = 24

	// Argon2i interactive-cost parameters, matching the "memory-hard KDF,
	// interactive cost" tier used by the original implementation.
	argonTime    = 4
	argonMemory  = 32 * 1024 // KiB
	argonThreads = 1
)

// ErrUnknownKeyID is returned by Get when no key exists for the requested id.
var ErrUnknownKeyID = errors.New("keyring: unknown key id")

// ErrCorruptEntry is returned when an entry cannot be decoded or fails
// authentication under the derived master key (wrong password, or a
// tampered/corrupted file).
var ErrCorruptEntry = errors.New("keyring: corrupt or unreadable entry")

// document is the on-disk TOML shape: a single [keys] table mapping a
// stringified key id to base64(nonce ‖ secretbox(key)).
type document struct {
	Keys map[string]string `toml:"keys"`
}

// Keyring is an immutable-after-load, encrypted id-to-key map. It is safe
// for concurrent read access without locking once loaded.
type Keyring struct {
	path      string
	masterKey [KeySize]byte
	keys      map[uint64][KeySize]byte
	lastID    uint64
	hasAny    bool
}

// deriveMasterKey derives the 32-byte secretbox key used to seal/open every
// entry from (password, salt) via Argon2i at interactive cost.
func deriveMasterKey(password, salt []byte) [KeySize]byte {
	derived := argon2.Key(password, salt, argonTime, argonMemory, argonThreads, KeySize)
	var key [KeySize]byte
	copy(key[:], derived)
	return key
}

// Load reads the keyring document at path, or starts empty if the file does
// not exist. Every entry is decrypted eagerly so a bad password surfaces
// immediately as ErrCorruptEntry rather than lazily on first use.
func Load(path string, password, salt []byte) (*Keyring, error) {
	kr := &Keyring{
		path:      path,
		masterKey: deriveMasterKey(password, salt),
		keys:      make(map[uint64][KeySize]byte),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kr, nil
		}
		return nil, fmt.Errorf("keyring: reading %s: %w", path, err)
	}

	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("keyring: parsing %s: %w", path, err)
	}

	for idStr, encoded := range doc.Keys {
		id, err := parseKeyID(idStr)
		if err != nil {
			return nil, fmt.Errorf("keyring: %s: %w", idStr, err)
		}
		key, err := kr.openEntry(encoded)
		if err != nil {
			return nil, fmt.Errorf("keyring: entry %d: %w", id, err)
		}
		kr.keys[id] = key
		if !kr.hasAny || id > kr.lastID {
			kr.lastID = id
			kr.hasAny = true
		}
	}

	return kr, nil
}

func (kr *Keyring) openEntry(encoded string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if len(raw) <= nonceSize {
		return key, fmt.Errorf("%w: entry too short", ErrCorruptEntry)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &kr.masterKey)
	if !ok {
		return key, fmt.Errorf("%w: authentication failed (wrong password?)", ErrCorruptEntry)
	}
	if len(plain) != KeySize {
		return key, fmt.Errorf("%w: unexpected key length %d", ErrCorruptEntry, len(plain))
	}
	copy(key[:], plain)
	return key, nil
}

func (kr *Keyring) sealEntry(key [KeySize]byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("keyring: generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, key[:], &nonce, &kr.masterKey)
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Get returns the key for id, or ErrUnknownKeyID.
func (kr *Keyring) Get(id uint64) ([KeySize]byte, error) {
	key, ok := kr.keys[id]
	if !ok {
		return key, ErrUnknownKeyID
	}
	return key, nil
}

// GetLast returns the key with the maximum id, or ok=false if the keyring
// has no entries.
func (kr *Keyring) GetLast() (id uint64, key [KeySize]byte, ok bool) {
	if !kr.hasAny {
		return 0, key, false
	}
	return kr.lastID, kr.keys[kr.lastID], true
}

// Len returns the number of keys currently in the keyring.
func (kr *Keyring) Len() int {
	return len(kr.keys)
}

// AddRandom generates a fresh 32-byte random key, inserts it at
// max(existing ids)+1 (or 0 if empty), persists the keyring to disk, and
// returns the new id. Existing keys keep their ids and values, but the whole
// document is rewritten: every entry, old and new, is sealed again under a
// fresh nonce, so the stored text of existing entries changes.
func (kr *Keyring) AddRandom() (uint64, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return 0, fmt.Errorf("keyring: generating key: %w", err)
	}

	newID := uint64(0)
	if kr.hasAny {
		newID = kr.lastID + 1
	}

	kr.keys[newID] = key
	kr.lastID = newID
	kr.hasAny = true

	if err := kr.persist(); err != nil {
		return 0, err
	}
	return newID, nil
}

func (kr *Keyring) persist() error {
	doc := document{Keys: make(map[string]string, len(kr.keys))}
	ids := make([]uint64, 0, len(kr.keys))
	for id := range kr.keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		encoded, err := kr.sealEntry(kr.keys[id])
		if err != nil {
			return err
		}
		doc.Keys[fmt.Sprintf("%d", id)] = encoded
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("keyring: serializing document: %w", err)
	}
	if err := os.WriteFile(kr.path, out, 0o600); err != nil {
		return fmt.Errorf("keyring: writing %s: %w", kr.path, err)
	}
	return nil
}

func parseKeyID(s string) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(s, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("invalid key id %q: %w", s, err)
	}
	return id, nil
}
