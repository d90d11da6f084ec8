// Package xex implements the AES-128 Xor-Encrypt-Xor (XEX) tweakable block
// cipher mode used to encrypt ENCMAP pages (spec §4.1), grounded on
// original_source/P5/crypto.{hh,cc}. Unlike golang.org/x/crypto/xts (the
// ecosystem's closest tweakable-AES mode), this mode derives its tweak once
// per 16-byte block directly from the absolute block index and applies it a
// single time — it does not multiply the tweak by alpha^i across a sector
// the way XTS does — so it is hand-rolled atop crypto/aes rather than
// reusing that package (see SPEC_FULL.md §4.1/DESIGN.md for the rationale).
package xex

import (
	"crypto/sha256"

	"github.com/c8ef/CS111/util"
)

// KeySize is the length in bytes of a Key: two 16-byte AES-128 subkeys.
const KeySize = 32

// BlockSize is the size of one cipher block (and the required alignment
// granularity for every Encrypt/Decrypt call).
const BlockSize = 16

// Key is a 32-byte key split into K1 (encrypts data) and K2 (encrypts
// tweaks). It is always derived from an arbitrary-length byte string via
// SHA-256, so every bit of the key depends on every byte of input,
// regardless of the input's length.
type Key struct {
	bytes [KeySize]byte
}

// DeriveKey hashes passphrase with SHA-256 to build a Key, matching
// original_source/P5's Key(std::string_view) constructor (which uses
// OpenSSL's SHA256()); crypto/sha256 is the direct Go stdlib equivalent.
func DeriveKey(passphrase []byte) Key {
	return Key{bytes: sha256.Sum256(passphrase)}
}

// K1 returns the subkey used to encrypt/decrypt page contents.
func (k Key) K1() []byte { return k.bytes[0:16] }

// K2 returns the subkey used to encrypt the per-block tweak.
func (k Key) K2() []byte { return k.bytes[16:32] }

// Erase overwrites the key material with zeros. Go cannot guarantee a
// volatile, non-elidable wipe the way original_source/P5's secure_erase()
// does with a volatile pointer and a noinline function, but zeroing the
// backing array is the closest idiomatic approximation. Nothing erases a
// Key automatically: neither cryptfile.Close nor encmap teardown calls
// Erase, so the holder of the Key calls it once the key is no longer
// needed.
func (k *Key) Erase() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	util.DPrintf(10, "xex: key erased\n")
}
