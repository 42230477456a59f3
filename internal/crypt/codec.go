// Package crypt implements the symmetric codec applied to every control frame
// on the wire. Ciphertexts use the OpenSSL "Salted__" envelope produced by
// CryptoJS AES.encrypt with a passphrase, so browser clients built on that
// library interoperate without changes.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrEmptySecret is returned when a codec is built without a secret.
	ErrEmptySecret = errors.New("crypt: empty secret")
	// ErrNotCiphertext reports input that does not decrypt under the secret.
	ErrNotCiphertext = errors.New("crypt: not a valid ciphertext")
)

const (
	saltHeader = "Salted__"
	saltLen    = 8
	keyLen     = 32
)

// Codec encrypts and decrypts frames with one process-wide shared secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
}

// New returns a Codec for the given pre-shared secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encrypt seals plaintext and returns printable base64 ciphertext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypt: reading salt: %w", err)
	}
	return c.seal([]byte(plaintext), salt)
}

// EncryptBytes base64-encodes b and then encrypts the encoded text, so binary
// payloads travel on the same text channel as control frames.
func (c *Codec) EncryptBytes(b []byte) (string, error) {
	return c.Encrypt(base64.StdEncoding.EncodeToString(b))
}

// Decrypt returns the plaintext for ciphertext. Input that is not a valid
// ciphertext under this codec's secret is returned unchanged: raw chunk
// frames share the channel with encrypted control frames.
func (c *Codec) Decrypt(ciphertext string) string {
	plaintext, err := c.Open(ciphertext)
	if err != nil {
		return ciphertext
	}
	return plaintext
}

// Open is the strict form of Decrypt.
func (c *Codec) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrNotCiphertext
	}
	if len(raw) < len(saltHeader)+saltLen+aes.BlockSize || !bytes.HasPrefix(raw, []byte(saltHeader)) {
		return "", ErrNotCiphertext
	}
	salt := raw[len(saltHeader) : len(saltHeader)+saltLen]
	body := raw[len(saltHeader)+saltLen:]
	if len(body)%aes.BlockSize != 0 {
		return "", ErrNotCiphertext
	}

	key, iv := deriveKey(c.secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypt: %w", err)
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)

	out, ok := unpad(out)
	if !ok || !utf8.Valid(out) {
		return "", ErrNotCiphertext
	}
	return string(out), nil
}

func (c *Codec) seal(plaintext, salt []byte) (string, error) {
	key, iv := deriveKey(c.secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypt: %w", err)
	}
	padded := pad(plaintext)
	out := make([]byte, len(saltHeader)+saltLen+len(padded))
	copy(out, saltHeader)
	copy(out[len(saltHeader):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(saltHeader)+saltLen:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// deriveKey is OpenSSL's EVP_BytesToKey with MD5 and a single iteration.
func deriveKey(secret, salt []byte) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+aes.BlockSize {
		h := md5.New()
		h.Write(prev)
		h.Write(secret)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+aes.BlockSize]
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
