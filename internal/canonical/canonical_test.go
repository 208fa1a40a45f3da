package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelock/tracelock/internal/ledgererr"
)

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"beta": 2, "alpha": 1, "gamma": 3}
	b := map[string]any{"gamma": 3, "alpha": 1, "beta": 2}

	textA, err := Canonicalize(a)
	require.NoError(t, err)
	textB, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, textA, textB)
	assert.Equal(t, `{"alpha":1,"beta":2,"gamma":3}`, textA)

	hashA, err := Hash(a)
	require.NoError(t, err)
	hashB, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestCanonicalizeArrayOrderSignificant(t *testing.T) {
	a := map[string]any{"items": []any{"P1", "P2"}}
	b := map[string]any{"items": []any{"P2", "P1"}}

	hashA, err := Hash(a)
	require.NoError(t, err)
	hashB, err := Hash(b)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestCanonicalizeNumberForms(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 1, "1"},
		{"int64", int64(1), "1"},
		{"integral float", 1.0, "1"},
		{"number literal with point", json.Number("1.0"), "1"},
		{"exponent", json.Number("1e2"), "100"},
		{"fraction", 0.5, "0.5"},
		{"negative integral float", -7.0, "-7"},
		{"leading zeros", json.Number("007"), "7"},
		{"large integral float", 2e15, "2000000000000000"},
		{"large integer literal", json.Number("2000000000000000"), "2000000000000000"},
		{"huge integer stays literal", json.Number("123456789012345678901234567890"), "123456789012345678901234567890"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEquivalentNumbersHashIdentically(t *testing.T) {
	hashInt, err := Hash(map[string]any{"n": 1})
	require.NoError(t, err)
	hashFloat, err := Hash(map[string]any{"n": 1.0})
	require.NoError(t, err)
	assert.Equal(t, hashInt, hashFloat)

	hashBigFloat, err := Hash(map[string]any{"n": 2e15})
	require.NoError(t, err)
	hashBigLiteral, err := Hash(map[string]any{"n": json.Number("2000000000000000")})
	require.NoError(t, err)
	assert.Equal(t, hashBigFloat, hashBigLiteral)
}

func TestCanonicalizeStringEscaping(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", `"hello"`},
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"newline tab", "a\n\tb", `"a\n\tb"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"unicode stays raw", "héllo 世界", `"héllo 世界"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeScalars(t *testing.T) {
	got, err := Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", got)

	got, err = Canonicalize(true)
	require.NoError(t, err)
	assert.Equal(t, "true", got)
}

func TestCanonicalizeStruct(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Skip  string `json:"-"`
	}
	got, err := Canonicalize(record{Name: "a", Count: 2, Skip: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"count":2,"name":"a"}`, got)
}

func TestCanonicalizeComposite(t *testing.T) {
	doc := map[string]any{
		"zeta":  []any{"b", "a"},
		"alpha": map[string]any{"y": 1, "x": 2.0},
		"note":  "line\n\"q\"",
		"ok":    true,
		"none":  nil,
	}
	text, err := Canonicalize(doc)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "composite", []byte(text))
}

func TestHashMatchesCanonicalText(t *testing.T) {
	doc := map[string]any{"a": 1}
	text, err := Canonicalize(doc)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(text))
	want := hex.EncodeToString(sum[:])

	got, err := Hash(doc)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, HashLength)
}

func TestCheckFormat(t *testing.T) {
	valid, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.NoError(t, CheckFormat(valid))

	err = CheckFormat("abc123")
	require.Error(t, err)
	assert.True(t, ledgererr.IsFormat(err))
	assert.Equal(t, ledgererr.CodeMalformedHash, ledgererr.CodeOf(err))

	bad := valid[:HashLength-1] + "Z"
	err = CheckFormat(bad)
	require.Error(t, err)
	assert.Equal(t, ledgererr.CodeMalformedHash, ledgererr.CodeOf(err))
}

func TestVerify(t *testing.T) {
	doc := map[string]any{"a": 1}
	hash, err := Hash(doc)
	require.NoError(t, err)

	match, err := Verify(doc, hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = Verify(map[string]any{"a": 2}, hash)
	require.NoError(t, err)
	assert.False(t, match)

	_, err = Verify(doc, "not-a-hash")
	require.Error(t, err)
	assert.True(t, ledgererr.IsFormat(err))
}
