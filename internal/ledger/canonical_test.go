package ledger_test

import (
	"errors"
	"testing"

	"github.com/jmerrifield20/certchain/internal/ledger"
)

func TestCanonicalize_orderIndependent(t *testing.T) {
	a, err := ledger.ParseMetadata([]byte(`{"name":"X","institution":"Y","year":2024,"honours":true}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ledger.ParseMetadata([]byte(`{"honours":true,"year":2024,"institution":"Y","name":"X"}`))
	if err != nil {
		t.Fatal(err)
	}

	ca, err := ledger.Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := ledger.Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}

	want := `{"honours":true,"institution":"Y","name":"X","year":2024}`
	if string(ca) != want {
		t.Errorf("Canonicalize() = %s, want %s", ca, want)
	}
}

func TestCanonicalize_encoding(t *testing.T) {
	tests := []struct {
		name string
		md   ledger.Metadata
		want string
	}{
		{"nil map", nil, `{}`},
		{"empty map", ledger.Metadata{}, `{}`},
		{"integral float", ledger.Metadata{"gpa": ledger.Number(4.0)}, `{"gpa":4}`},
		{"fraction", ledger.Metadata{"gpa": ledger.Number(3.75)}, `{"gpa":3.75}`},
		{"no html escaping", ledger.Metadata{"notes": ledger.String("a<b & c>d")}, `{"notes":"a<b & c>d"}`},
		{"unicode kept", ledger.Metadata{"name": ledger.String("Zoë")}, `{"name":"Zoë"}`},
		{"bool", ledger.Metadata{"honours": ledger.Bool(false)}, `{"honours":false}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ledger.Canonicalize(tc.md)
			if err != nil {
				t.Fatalf("Canonicalize() error: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("Canonicalize() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanonicalize_rejectsZeroValue(t *testing.T) {
	_, err := ledger.Canonicalize(ledger.Metadata{"x": {}})
	if !errors.Is(err, ledger.ErrInvalidMetadata) {
		t.Errorf("expected ErrInvalidMetadata, got %v", err)
	}
}

func TestParseMetadata_rejectsNonScalars(t *testing.T) {
	tests := []string{
		`{"a":{"b":1}}`,
		`{"a":[1,2]}`,
		`{"a":null}`,
		`[1,2]`,
		`"text"`,
		``,
		`{"a":`,
	}
	for _, in := range tests {
		if _, err := ledger.ParseMetadata([]byte(in)); !errors.Is(err, ledger.ErrInvalidMetadata) {
			t.Errorf("ParseMetadata(%q): expected ErrInvalidMetadata, got %v", in, err)
		}
	}
}

func TestParseMetadata_rejectsNUL(t *testing.T) {
	for _, in := range []string{`{"name":"a\u0000b"}`, `{"na\u0000me":"X"}`} {
		if _, err := ledger.ParseMetadata([]byte(in)); !errors.Is(err, ledger.ErrInvalidMetadata) {
			t.Errorf("ParseMetadata(%s): expected ErrInvalidMetadata, got %v", in, err)
		}
	}
}

func TestParseMetadata_scalars(t *testing.T) {
	md, err := ledger.ParseMetadata([]byte(`{"s":"v","n":1.5,"b":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if md["s"].Kind() != ledger.KindString || md["s"].Str() != "v" {
		t.Errorf("s: got %+v", md["s"])
	}
	if md["n"].Kind() != ledger.KindNumber || md["n"].Num() != 1.5 {
		t.Errorf("n: got %+v", md["n"])
	}
	if md["b"].Kind() != ledger.KindBool || !md["b"].Truth() {
		t.Errorf("b: got %+v", md["b"])
	}
}

func TestNormalizeContentHash(t *testing.T) {
	valid := "0x" + "AB" + "00000000000000000000000000000000000000000000000000000000000000"
	got, err := ledger.NormalizeContentHash(valid)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0xab00000000000000000000000000000000000000000000000000000000000000" {
		t.Errorf("NormalizeContentHash() = %q", got)
	}

	for _, bad := range []string{"", "abc", "0x1234", "0x" + "zz00000000000000000000000000000000000000000000000000000000000000"} {
		if _, err := ledger.NormalizeContentHash(bad); !errors.Is(err, ledger.ErrInvalidContentHash) {
			t.Errorf("NormalizeContentHash(%q): expected ErrInvalidContentHash, got %v", bad, err)
		}
	}
}

func TestContentHash(t *testing.T) {
	// SHA-256 of the empty string.
	want := "0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := ledger.ContentHash(nil); got != want {
		t.Errorf("ContentHash(nil) = %q, want %q", got, want)
	}
}
