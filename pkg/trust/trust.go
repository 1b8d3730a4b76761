// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package trust persists which peer fingerprints have already completed a
// SPAKE2 pairing, so a reconnect to an already-paired peer skips straight
// to a shared key instead of showing the PIN prompt again.
package trust

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"
)

const dirBadger = "trust"

// Entry is one paired peer's cached outcome: the 64-byte shared key SPAKE2
// derived and the time it was last confirmed. The certificate itself is
// never stored here, only the fingerprint used to look the entry up.
type Entry struct {
	Fingerprint       string `badgerholdKey:"Fingerprint"`
	SharedKey         [64]byte
	LastAuthenticated time.Time
}

// Store is a small badgerhold-backed cache of Entry, keyed by the peer's
// agent certificate fingerprint (the DNS-SD TXT record's "fp" value).
type Store struct {
	bh *badgerhold.Store
}

// Open creates or opens a trust cache rooted at dir.
func Open(dir string) (*Store, error) {
	badgerDir := path.Join(dir, dirBadger)
	if err := os.MkdirAll(badgerDir, 0700); err != nil {
		return nil, err
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{bh: bh}, nil
}

// Close the store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Lookup returns the cached entry for fingerprint, and whether one exists.
func (s *Store) Lookup(fingerprint string) (Entry, bool) {
	var e Entry
	if err := s.bh.Get(fingerprint, &e); err != nil {
		if err != badgerhold.ErrNotFound {
			log.WithError(err).WithField("fingerprint", fingerprint).Warn("trust: lookup failed")
		}
		return Entry{}, false
	}
	return e, true
}

// Remember stores or overwrites the pairing outcome for fingerprint.
func (s *Store) Remember(fingerprint string, sharedKey [64]byte, at time.Time) error {
	e := Entry{Fingerprint: fingerprint, SharedKey: sharedKey, LastAuthenticated: at}
	if _, ok := s.Lookup(fingerprint); ok {
		return s.bh.Update(fingerprint, e)
	}
	return s.bh.Insert(fingerprint, e)
}

// Forget removes any cached pairing for fingerprint, forcing the next
// handshake with that peer to run SPAKE2 in full.
func (s *Store) Forget(fingerprint string) error {
	err := s.bh.Delete(fingerprint, Entry{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}
