package xex

import (
	"crypto/aes"
	"fmt"

	"github.com/c8ef/CS111/fserrors"
)

// Cipher encrypts/decrypts contiguous runs of 16-byte blocks in XEX mode
// keyed by a Key, per spec §4.1:
//
//	X          = AES_Enc(K2, bigendian16(offset/16))
//	ciphertext = AES_Enc(K1, plaintext XOR X) XOR X
//
// and symmetrically for decryption with AES_Dec. offset is the absolute
// byte offset of the block being processed, so the same plaintext block
// encrypted at two different offsets produces unrelated ciphertext.
type Cipher struct {
	k1, k2 cipherBlock
}

// cipherBlock is the minimal interface of crypto/aes.NewCipher's return
// value that we need; named so the two ECB passes below read symmetrically.
type cipherBlock interface {
	BlockSize() int
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}

// NewCipher builds a Cipher from a Key, instantiating one AES-128 block
// cipher per subkey.
func NewCipher(key Key) (*Cipher, error) {
	b1, err := aes.NewCipher(key.K1())
	if err != nil {
		return nil, fmt.Errorf("xex: K1: %w: %w", err, fserrors.ErrCryptoFailed)
	}
	b2, err := aes.NewCipher(key.K2())
	if err != nil {
		return nil, fmt.Errorf("xex: K2: %w: %w", err, fserrors.ErrCryptoFailed)
	}
	return &Cipher{k1: b1, k2: b2}, nil
}

func checkAligned(len_, offset uint64) error {
	if len_%BlockSize != 0 || offset%BlockSize != 0 {
		return fmt.Errorf("xex: len=%d offset=%d must be multiples of %d: %w",
			len_, offset, BlockSize, fserrors.ErrInvalidArgument)
	}
	return nil
}

// tweak computes X = AES_Enc(K2, bigendian16(blockIndex)) for the block at
// absolute byte offset off.
func (c *Cipher) tweak(off uint64) [BlockSize]byte {
	var in, out [BlockSize]byte
	blockno := off / BlockSize
	for j := BlockSize; j > 0; j-- {
		in[j-1] = byte(blockno)
		blockno >>= 8
	}
	c.k2.Encrypt(out[:], in[:])
	return out
}

func xor16(dst, a, b []byte) {
	for i := 0; i < BlockSize; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// Encrypt writes len(src) (a positive multiple of 16) encrypted bytes to
// dst, using offset (a multiple of 16) to tweak each block. dst and src
// may alias.
func (c *Cipher) Encrypt(dst, src []byte, offset uint64) error {
	if err := checkAligned(uint64(len(src)), offset); err != nil {
		return err
	}
	if len(dst) < len(src) {
		return fmt.Errorf("xex: dst shorter than src: %w", fserrors.ErrInvalidArgument)
	}
	for i := 0; i < len(src); i += BlockSize {
		x := c.tweak(offset + uint64(i))
		var tmp [BlockSize]byte
		xor16(tmp[:], src[i:i+BlockSize], x[:])
		c.k1.Encrypt(tmp[:], tmp[:])
		xor16(dst[i:i+BlockSize], tmp[:], x[:])
	}
	return nil
}

// Decrypt is Encrypt's inverse.
func (c *Cipher) Decrypt(dst, src []byte, offset uint64) error {
	if err := checkAligned(uint64(len(src)), offset); err != nil {
		return err
	}
	if len(dst) < len(src) {
		return fmt.Errorf("xex: dst shorter than src: %w", fserrors.ErrInvalidArgument)
	}
	for i := 0; i < len(src); i += BlockSize {
		x := c.tweak(offset + uint64(i))
		var tmp [BlockSize]byte
		xor16(tmp[:], src[i:i+BlockSize], x[:])
		c.k1.Decrypt(tmp[:], tmp[:])
		xor16(dst[i:i+BlockSize], tmp[:], x[:])
	}
	return nil
}
