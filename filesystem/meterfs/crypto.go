package meterfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

const keySize = 16

// cryptoHelper provides optional per-record authenticated encryption
// (§4.2). The master key is supplied out of band at mount time and is
// opaque to the rest of the core; cryptoHelper is the only place that ever
// touches it.
type cryptoHelper struct {
	masterKey []byte
}

func newCryptoHelper(key []byte) (*cryptoHelper, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", ErrInvalid, keySize, len(key))
	}
	return &cryptoHelper{masterKey: append([]byte(nil), key...)}, nil
}

// deriveSubkey derives a per-file-generation key from the master key,
// salted with the (sector, uid) tuple that also seeds the nonce - this
// means a key is never reused beyond one file generation, on top of the
// nonce uniqueness the encrypt/decrypt scheme already provides.
func deriveSubkey(masterKey, salt []byte) ([]byte, error) {
	h := hkdf.New(newSHA256, masterKey, salt, []byte("meterfs-record"))
	out := make([]byte, keySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("%w: derive record subkey: %v", ErrIOError, err)
	}
	return out, nil
}

// constructNonce builds the 16-byte AES-CTR IV from (entry.id.no,
// file.sector, file.uid, 0), little-endian, exactly per §4.2.
func constructNonce(fh FileHeader, e entryHeader) [16]byte {
	var iv [16]byte
	binary.LittleEndian.PutUint32(iv[0:4], e.ID.no)
	binary.LittleEndian.PutUint32(iv[4:8], fh.Sector)
	binary.LittleEndian.PutUint32(iv[8:12], fh.UID)
	binary.LittleEndian.PutUint32(iv[12:16], 0)
	return iv
}

// keyedMAC computes the 32-bit keyed-MAC over plaintext||nonce using
// blake2b's native keyed-hash mode, truncated to 4 bytes. A MAC mismatch on
// read is reported as ErrCorruptRecord.
func keyedMAC(key, plaintext []byte, nonce [16]byte) (uint32, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return 0, fmt.Errorf("%w: init MAC: %v", ErrIOError, err)
	}
	h.Write(plaintext)
	h.Write(nonce[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4]), nil
}

// encrypt returns the ciphertext and checksum (keyed MAC) for a record
// about to be appended. e.ID must already hold the record's assigned id.
func (c *cryptoHelper) encrypt(plaintext []byte, fh FileHeader, e entryHeader) ([]byte, uint32, error) {
	key, err := deriveSubkey(c.masterKey, saltFor(fh))
	if err != nil {
		return nil, 0, err
	}

	nonce := constructNonce(fh, e)
	mac, err := keyedMAC(key, plaintext, nonce)
	if err != nil {
		return nil, 0, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: init cipher: %v", ErrIOError, err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, nonce[:]).XORKeyStream(ciphertext, plaintext)

	return ciphertext, mac, nil
}

// decrypt reverses encrypt and verifies the MAC, returning ErrCorruptRecord
// on mismatch.
func (c *cryptoHelper) decrypt(ciphertext []byte, mac uint32, fh FileHeader, e entryHeader) ([]byte, error) {
	key, err := deriveSubkey(c.masterKey, saltFor(fh))
	if err != nil {
		return nil, err
	}

	nonce := constructNonce(fh, e)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: init cipher: %v", ErrIOError, err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, nonce[:]).XORKeyStream(plaintext, ciphertext)

	wantMAC, err := keyedMAC(key, plaintext, nonce)
	if err != nil {
		return nil, err
	}
	if wantMAC != mac {
		return nil, ErrCorruptRecord
	}
	return plaintext, nil
}

func saltFor(fh FileHeader) []byte {
	var salt [8]byte
	binary.LittleEndian.PutUint32(salt[0:4], fh.Sector)
	binary.LittleEndian.PutUint32(salt[4:8], fh.UID)
	return salt[:]
}
