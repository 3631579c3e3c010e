package hls

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CryptoKey is one entry of a variant's crypto_key.json: the AES key and IV
// used to encrypt every segment of that variant, keyed by a short id the
// media playlist's #EXT-X-KEY tag references (spec.md §3/§4.5).
type CryptoKey struct {
	KeyID     string
	KeyHex    string
	KeyNBytes int
	IVHex     string
	IVNBytes  int
}

// byteField is the on-disk shape of one hex-encoded byte string: the
// decoded length travels alongside the hex so a reader can catch a
// truncated or corrupted entry before it ever reaches the cipher.
type byteField struct {
	NBytes int    `json:"nbytes"`
	Data   string `json:"data"`
}

// cryptoKeyEntry is the on-disk shape of one crypto_key.json value, per
// spec.md §3: `{iv:{nbytes,data}, key:{nbytes,data}, alg:"aes"}`.
type cryptoKeyEntry struct {
	IV  byteField `json:"iv"`
	Key byteField `json:"key"`
	Alg string    `json:"alg"`
}

// GenerateCryptoKey creates a new random AES key (128 or 256 bits) and IV for
// variant keyID.
func GenerateCryptoKey(keyID string, keyBits int) (CryptoKey, error) {
	if keyBits != 128 && keyBits != 256 {
		return CryptoKey{}, fmt.Errorf("hls: unsupported key size %d bits", keyBits)
	}
	key := make([]byte, keyBits/8)
	if _, err := rand.Read(key); err != nil {
		return CryptoKey{}, fmt.Errorf("hls: generating key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return CryptoKey{}, fmt.Errorf("hls: generating iv: %w", err)
	}
	return CryptoKey{
		KeyID:     keyID,
		KeyHex:    hex.EncodeToString(key),
		KeyNBytes: len(key),
		IVHex:     hex.EncodeToString(iv),
		IVNBytes:  len(iv),
	}, nil
}

// MarshalCryptoKeySet serializes a set of CryptoKeys as the crypto_key.json
// document stored alongside a committed version: a JSON object mapping each
// key id to its {iv,key,alg} entry, per spec.md §3.
func MarshalCryptoKeySet(keys []CryptoKey) ([]byte, error) {
	doc := make(map[string]cryptoKeyEntry, len(keys))
	for _, k := range keys {
		doc[k.KeyID] = cryptoKeyEntry{
			IV:  byteField{NBytes: k.IVNBytes, Data: k.IVHex},
			Key: byteField{NBytes: k.KeyNBytes, Data: k.KeyHex},
			Alg: "aes",
		}
	}
	return json.Marshal(doc)
}

// UnmarshalCryptoKeySet parses a crypto_key.json document, returning entries
// sorted by key id for a deterministic order.
func UnmarshalCryptoKeySet(data []byte) ([]CryptoKey, error) {
	var doc map[string]cryptoKeyEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("hls: parsing %s: %w", cryptoKeyFileName, err)
	}
	keys := make([]CryptoKey, 0, len(doc))
	for id, entry := range doc {
		keys = append(keys, CryptoKey{
			KeyID:     id,
			KeyHex:    entry.Key.Data,
			KeyNBytes: entry.Key.NBytes,
			IVHex:     entry.IV.Data,
			IVNBytes:  entry.IV.NBytes,
		})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyID < keys[j].KeyID })
	return keys, nil
}

// LookupCryptoKey finds the entry for keyID, returning (key, false) if absent
// so callers can translate a miss into a 404 per spec.md §4.5.
func LookupCryptoKey(keys []CryptoKey, keyID string) (CryptoKey, bool) {
	for _, k := range keys {
		if k.KeyID == keyID {
			return k, true
		}
	}
	return CryptoKey{}, false
}

// Bytes decodes the key's hex-encoded key and IV, verifying each against its
// recorded nbytes: a length mismatch means the stored entry is corrupt or
// truncated and must not reach the cipher, per spec.md §4.5.
func (k CryptoKey) Bytes() (key, iv []byte, err error) {
	key, err = hex.DecodeString(k.KeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("hls: decoding key hex: %w", err)
	}
	if k.KeyNBytes != 0 && len(key) != k.KeyNBytes {
		return nil, nil, fmt.Errorf("hls: key length %d does not match nbytes %d", len(key), k.KeyNBytes)
	}
	iv, err = hex.DecodeString(k.IVHex)
	if err != nil {
		return nil, nil, fmt.Errorf("hls: decoding iv hex: %w", err)
	}
	if k.IVNBytes != 0 && len(iv) != k.IVNBytes {
		return nil, nil, fmt.Errorf("hls: iv length %d does not match nbytes %d", len(iv), k.IVNBytes)
	}
	return key, iv, nil
}

// EncryptSegment encrypts plaintext under AES-CBC with PKCS#7 padding,
// matching the committed S5 contract: total length equals the plaintext
// length rounded up to the next 16-byte boundary.
func EncryptSegment(plaintext []byte, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hls: constructing cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("hls: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out, padded)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}
