// Package streamcrypto implements the CryptoStream component: AES-256-CBC
// streaming encryption and decryption of a byte stream using a
// caller-supplied 32-byte key and 16-byte IV, as specified in spec.md §4.2.
//
// This deliberately uses CBC rather than the CTR mode the teacher repo's
// crypto package used, because the wire format (codec package) needs
// block-padded ciphertext whose length is a deterministic function of
// plaintext length — CTR produces ciphertext the same length as the
// plaintext and carries no such invariant.
package streamcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"distfs/dfserr"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// IVSize is the required CBC initialization vector length in bytes,
// equal to the AES block size.
const IVSize = aes.BlockSize

// GenerateIV draws IVSize cryptographically random bytes.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, dfserr.Wrap(err, dfserr.Crypto, "generate iv")
	}
	return iv, nil
}

func checkParams(key, iv []byte) error {
	if len(key) != KeySize {
		return dfserr.New(dfserr.InvalidParameters, fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	if len(iv) != IVSize {
		return dfserr.New(dfserr.InvalidParameters, fmt.Sprintf("iv must be %d bytes, got %d", IVSize, len(iv)))
	}
	return nil
}

// Encrypt reads all of r, PKCS#7-pads it to a multiple of the AES block
// size, encrypts it with AES-256-CBC under key and iv, and writes the
// ciphertext to w in bufferSize chunks. It returns the number of
// ciphertext bytes written, which is always ceil((plaintextLen+1)/16)*16.
func Encrypt(key, iv []byte, w io.Writer, r io.Reader) (int, error) {
	if err := checkParams(key, iv); err != nil {
		return 0, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, dfserr.Wrap(err, dfserr.Crypto, "init cipher")
	}
	mode := cipher.NewCBCEncrypter(block, iv)

	const bufferSize = 8 * 1024
	// plaintext chunks must be multiples of the block size except for the
	// final, padded chunk, so read in block-size-aligned windows.
	readBuf := make([]byte, bufferSize)
	pending := make([]byte, 0, aes.BlockSize)
	written := 0

	flush := func(block []byte, isFinal bool) error {
		if isFinal {
			block = pkcs7Pad(block, aes.BlockSize)
		}
		out := make([]byte, len(block))
		mode.CryptBlocks(out, block)
		n, err := w.Write(out)
		written += n
		if err != nil {
			return dfserr.Wrap(err, dfserr.IO, "write ciphertext")
		}
		return nil
	}

	for {
		n, readErr := r.Read(readBuf)
		if n > 0 {
			pending = append(pending, readBuf[:n]...)
			full := len(pending) - (len(pending) % aes.BlockSize)
			if full > 0 {
				if err := flush(pending[:full], false); err != nil {
					return written, err
				}
				pending = pending[full:]
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, dfserr.Wrap(readErr, dfserr.IO, "read plaintext")
		}
	}
	if err := flush(pending, true); err != nil {
		return written, err
	}
	return written, nil
}

// Decrypt is the inverse of Encrypt: it reads ciphertext from r in
// block-size windows, decrypts with AES-256-CBC under key and iv, strips
// the PKCS#7 padding from the final block, and writes the recovered
// plaintext to w.
func Decrypt(key, iv []byte, w io.Writer, r io.Reader) (int, error) {
	if err := checkParams(key, iv); err != nil {
		return 0, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, dfserr.Wrap(err, dfserr.Crypto, "init cipher")
	}
	mode := cipher.NewCBCDecrypter(block, iv)

	const bufferSize = 8 * 1024
	// The final ciphertext block is the one carrying PKCS#7 padding, so it
	// can't be decrypted and written until we know no more bytes follow.
	// pending always holds the most recently seen complete block (plus any
	// not-yet-complete tail) so it can be held back across Read calls.
	readBuf := make([]byte, bufferSize)
	pending := make([]byte, 0, aes.BlockSize)
	written := 0

	emit := func(ciphertextBlocks []byte) error {
		if len(ciphertextBlocks) == 0 {
			return nil
		}
		out := make([]byte, len(ciphertextBlocks))
		mode.CryptBlocks(out, ciphertextBlocks)
		n, err := w.Write(out)
		written += n
		if err != nil {
			return dfserr.Wrap(err, dfserr.IO, "write plaintext")
		}
		return nil
	}

	for {
		n, readErr := r.Read(readBuf)
		if n > 0 {
			pending = append(pending, readBuf[:n]...)
			full := len(pending) - (len(pending) % aes.BlockSize)
			// Hold back the last full block: it might be the final,
			// padded one. Only emit the blocks strictly before it.
			if full >= aes.BlockSize {
				emitLen := full - aes.BlockSize
				if err := emit(pending[:emitLen]); err != nil {
					return written, err
				}
				pending = append(pending[:0:0], pending[emitLen:]...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, dfserr.Wrap(readErr, dfserr.IO, "read ciphertext")
		}
	}

	if len(pending) == 0 || len(pending)%aes.BlockSize != 0 {
		return written, dfserr.New(dfserr.Crypto, "ciphertext is not a multiple of the block size")
	}
	final := make([]byte, len(pending))
	mode.CryptBlocks(final, pending)
	unpadded, err := pkcs7Unpad(final, aes.BlockSize)
	if err != nil {
		return written, err
	}
	n, err := w.Write(unpadded)
	written += n
	if err != nil {
		return written, dfserr.Wrap(err, dfserr.IO, "write plaintext")
	}
	return written, nil
}

// pkcs7Pad appends between 1 and blockSize padding bytes so the result is
// a multiple of blockSize. As in PKCS#7, a full block of padding is
// added when the input is already block-aligned,
// matching spec §3's invariant that ciphertext length is always
// ceil((plaintextLen+1)/16)*16 — i.e. empty plaintext still yields one
// ciphertext block.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	if padLen == 0 {
		padLen = blockSize
	}
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, dfserr.New(dfserr.Crypto, "invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, dfserr.New(dfserr.Crypto, "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, dfserr.New(dfserr.Crypto, "invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// CiphertextLen returns the ciphertext length for a plaintext of the
// given length under this package's padding scheme, per spec §3.
func CiphertextLen(plaintextLen int) int {
	return ((plaintextLen + 1 + aes.BlockSize - 1) / aes.BlockSize) * aes.BlockSize
}
