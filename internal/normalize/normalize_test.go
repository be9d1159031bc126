package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/depfollow/internal/follower"
)

func TestNormalizeObjectDependencies(t *testing.T) {
	t.Parallel()

	doc := follower.Document{
		"name": "left-pad",
		"versions": map[string]any{
			"1.0.0": map[string]any{"dependencies": map[string]any{"a": "^1.0.0", "b": ""}},
			"1.1.0": map[string]any{},
		},
	}
	pkg := New(nil).Normalize(doc)

	require.Equal(t, "left-pad", pkg.Name)
	require.Equal(t, map[string]follower.Version{
		"1.0.0": {Dependencies: map[string]string{"a": "^1.0.0", "b": "*"}},
		"1.1.0": {Dependencies: map[string]string{}},
	}, pkg.Versions)
}

func TestNormalizeDropsBadRecords(t *testing.T) {
	t.Parallel()

	doc := follower.Document{
		"name": "x",
		"versions": map[string]any{
			"not-a-version": map[string]any{},
			"2.0.0":         "garbage",
			"v3.1.0":        map[string]any{"dependencies": map[string]any{"y": 7, "z": "~2"}},
		},
	}
	pkg := New(nil).Normalize(doc)

	require.Equal(t, map[string]follower.Version{
		"3.1.0": {Dependencies: map[string]string{"z": "~2"}},
	}, pkg.Versions)
}

func TestNormalizePrefersExactVersionSpelling(t *testing.T) {
	t.Parallel()

	doc := follower.Document{
		"name": "dup",
		"versions": map[string]any{
			"1.0.0":  map[string]any{"dependencies": map[string]any{"exact": "1"}},
			"v1.0.0": map[string]any{"dependencies": map[string]any{"alias": "1"}},
		},
	}
	pkg := New(nil).Normalize(doc)
	require.Equal(t, map[string]string{"exact": "1"}, pkg.Versions["1.0.0"].Dependencies)
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want map[string]string
	}{
		{name: "nil", in: nil, want: map[string]string{}},
		{name: "wrong type", in: 42, want: map[string]string{}},
		{name: "object", in: map[string]any{"a": "1.x", " ": "2"}, want: map[string]string{"a": "1.x"}},
		{name: "string map", in: map[string]string{"a": "latest"}, want: map[string]string{"a": "*"}},
		{
			name: "legacy array",
			in:   []any{"a@^1", "b", "@scope/c@~2.0.0", "@scope/d", 5, "", "e@"},
			want: map[string]string{"a": "^1", "b": "*", "@scope/c": "~2.0.0", "@scope/d": "*", "e": "*"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Dependencies(tc.in))
		})
	}
}

func TestCleanVersion(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		want string
		ok   bool
	}{
		"1.2.3":         {"1.2.3", true},
		" v1.2.3 ":      {"1.2.3", true},
		"=1.2.3":        {"1.2.3", true},
		"1.2":           {"", false},
		"1":             {"", false},
		"01.2.3":        {"", false},
		"1.0.0-beta.1":  {"1.0.0-beta.1", true},
		"1.0.0+build.5": {"1.0.0+build.5", true},
		"":              {"", false},
		"banana":        {"", false},
	}
	for in, tc := range tests {
		got, ok := CleanVersion(in)
		require.Equal(t, tc.ok, ok, in)
		require.Equal(t, tc.want, got, in)
	}
}
