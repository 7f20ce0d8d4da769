// Package integrity computes and checks the djb2 content digest carried by
// receiver envelopes.
//
// djb2 is not collision resistant. It detects truncation and corruption in
// transit, nothing more.
package integrity

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// Seed is the djb2 initial value.
const Seed uint64 = 5381

var ErrInvalidDigest = errors.New("integrity: invalid digest")

// Digest is a 64-bit djb2 value. Arithmetic wraps at 64 bits.
type Digest uint64

// Sum returns the djb2 digest of content.
func Sum(content []byte) Digest {
	h := Seed
	for _, b := range content {
		h = (h << 5) + h + uint64(b)
	}
	return Digest(h)
}

// Verify recomputes the digest of content and compares it to expected.
func Verify(content []byte, expected Digest) bool {
	return Sum(content) == expected
}

// ParseDigest parses an unsigned decimal digest.
func ParseDigest(raw string) (Digest, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDigest, raw)
	}
	return Digest(v), nil
}

func (d Digest) String() string {
	return strconv.FormatUint(uint64(d), 10)
}

// MarshalJSON emits the digest as an unsigned JSON number with all 64 bits.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a string of decimal digits.
func (d *Digest) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return fmt.Errorf("%w: null", ErrInvalidDigest)
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDigest, err)
		}
		raw = s
	}
	v, err := ParseDigest(raw)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type djb2 struct {
	sum uint64
}

// New returns a streaming djb2 hash.Hash64.
func New() hash.Hash64 {
	return &djb2{sum: Seed}
}

func (h *djb2) Write(p []byte) (int, error) {
	s := h.sum
	for _, b := range p {
		s = (s << 5) + s + uint64(b)
	}
	h.sum = s
	return len(p), nil
}

func (h *djb2) Sum(b []byte) []byte {
	s := h.sum
	return append(b,
		byte(s>>56), byte(s>>48), byte(s>>40), byte(s>>32),
		byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (h *djb2) Reset()         { h.sum = Seed }
func (h *djb2) Size() int      { return 8 }
func (h *djb2) BlockSize() int { return 1 }
func (h *djb2) Sum64() uint64  { return h.sum }
