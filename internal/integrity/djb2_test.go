package integrity

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/wsharness/internal/testutil/testlog"
)

func TestSumReferenceTable(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   []byte
		want Digest
	}{
		{in: []byte(""), want: 5381},
		{in: []byte("a"), want: 5381*33 + 97},
		{in: []byte("abc"), want: 193485963},
		{in: []byte("hello"), want: 210714636441},
		{in: []byte{0xff, 0x00, 0x80}, want: 193654820},
		// long enough to wrap at 64 bits
		{in: []byte("The quick brown fox jumps over the lazy dog"), want: 3950289020261251294},
	}
	for _, tc := range cases {
		if got := Sum(tc.in); got != tc.want {
			t.Fatalf("Sum(%q)=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestSumDeterministic(t *testing.T) {
	in := []byte("same bytes every time")
	if Sum(in) != Sum(in) {
		t.Fatalf("digest not deterministic")
	}
}

func TestVerify(t *testing.T) {
	content := []byte("hello")
	if !Verify(content, 210714636441) {
		t.Fatalf("expected digest match")
	}
	if Verify(content, 210714636442) {
		t.Fatalf("expected digest mismatch")
	}
	if Verify(nil, 0) {
		t.Fatalf("empty content must hash to seed, not zero")
	}
}

func TestStreamingMatchesSum(t *testing.T) {
	payload := strings.Repeat("chunked-payload-", 1024)
	h := New()
	if _, err := io.Copy(h, strings.NewReader(payload)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got, want := h.Sum64(), uint64(Sum([]byte(payload))); got != want {
		t.Fatalf("stream=%d sum=%d", got, want)
	}
	if len(h.Sum(nil)) != h.Size() {
		t.Fatalf("unexpected sum length")
	}
	h.Reset()
	if h.Sum64() != Seed {
		t.Fatalf("reset did not restore seed")
	}
}

func TestDigestJSON(t *testing.T) {
	var d Digest
	if err := json.Unmarshal([]byte(`210714636441`), &d); err != nil || d != 210714636441 {
		t.Fatalf("number form: d=%d err=%v", d, err)
	}
	if err := json.Unmarshal([]byte(`"18446744073709551615"`), &d); err != nil || d != Digest(^uint64(0)) {
		t.Fatalf("string form: d=%d err=%v", d, err)
	}
	for _, bad := range []string{`null`, `"abc"`, `-1`, `1.5`, `true`} {
		if err := json.Unmarshal([]byte(bad), &d); !errors.Is(err, ErrInvalidDigest) {
			t.Fatalf("input %s: expected ErrInvalidDigest, got %v", bad, err)
		}
	}

	for _, tc := range []struct {
		d    Digest
		want string
	}{
		{d: 5381, want: `5381`},
		{d: Digest(^uint64(0)), want: `18446744073709551615`},
	} {
		out, err := json.Marshal(tc.d)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tc.want {
			t.Fatalf("marshal %d = %s want %s", uint64(tc.d), out, tc.want)
		}
		var back Digest
		if err := json.Unmarshal(out, &back); err != nil || back != tc.d {
			t.Fatalf("read back %s: d=%d err=%v", out, back, err)
		}
	}
}
