// Package qpu verifies quantum compute provider identity: compact JWS or
// hybrid envelopes resolved against a local JWKS cache, optional X.509 chain
// binding to a pinned QPU root, optional post-quantum counter-signature, and
// the provider COSE_Sign1 form.
//
// The JWKS cache is a directory of <slug>.jwks.json files, each holding a
// standard {"keys": [JWK, ...]} set. It is read once and immutable
// afterwards; refreshing the cache is the operator's concern, never this
// package's.
package qpu

import (
	"crypto"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/animicaorg/animica-core/errors"
)

// KeyRef identifies a resolved provider key within the cache.
type KeyRef struct {
	Slug string
	Kid  string
	Alg  string
	Key  crypto.PublicKey
}

// JWKSCache is the read-only in-memory view of the provider key directory.
type JWKSCache struct {
	byKid map[string][]KeyRef
	slugs []string
}

// LoadJWKSCache reads every *.jwks.json file under dir. Files that fail to
// parse are skipped; an unreadable directory is an error.
func LoadJWKSCache(dir string) (*JWKSCache, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAttestation, "read JWKS cache dir", err)
	}
	cache := &JWKSCache{byKid: make(map[string][]KeyRef)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jwks.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		slug := strings.TrimSuffix(name, ".jwks.json")
		if err := cache.addSet(slug, data); err != nil {
			continue
		}
	}
	sort.Strings(cache.slugs)
	return cache, nil
}

// NewJWKSCache builds a cache from in-memory slug -> JWKS JSON pairs,
// primarily for tests.
func NewJWKSCache(sets map[string][]byte) (*JWKSCache, error) {
	cache := &JWKSCache{byKid: make(map[string][]KeyRef)}
	slugs := make([]string, 0, len(sets))
	for slug := range sets {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		if err := cache.addSet(slug, sets[slug]); err != nil {
			return nil, err
		}
	}
	return cache, nil
}

func (c *JWKSCache) addSet(slug string, data []byte) error {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return errors.Wrap(errors.CodeAttestation, "parse JWKS "+slug, err)
	}
	for _, k := range set.Keys {
		if !k.Valid() || k.KeyID == "" {
			continue
		}
		c.byKid[k.KeyID] = append(c.byKid[k.KeyID], KeyRef{
			Slug: slug,
			Kid:  k.KeyID,
			Alg:  k.Algorithm,
			Key:  k.Key,
		})
	}
	c.slugs = append(c.slugs, slug)
	return nil
}

// Slugs lists the provider slugs present in the cache.
func (c *JWKSCache) Slugs() []string { return c.slugs }

// FindKey resolves a key by kid, optionally constrained to an algorithm.
// When several providers share a kid the first slug in sorted order wins,
// which keeps lookups deterministic.
func (c *JWKSCache) FindKey(kid, alg string) (KeyRef, bool) {
	refs := c.byKid[kid]
	for _, ref := range refs {
		if alg == "" || ref.Alg == "" || ref.Alg == alg {
			return ref, true
		}
	}
	return KeyRef{}, false
}
