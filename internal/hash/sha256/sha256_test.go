package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps map[string]string
		want string
	}{
		{"empty", map[string]string{}, "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"},
		{"single", map[string]string{"a": "^1.0.0"}, "09fc4ec4f54d160f0894853ac484e2b2767008fcbb8d3e13da213989531f5418"},
	}
	f := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := f.Fingerprint(tt.deps)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFingerprintIgnoresInsertionOrder(t *testing.T) {
	t.Parallel()

	a := map[string]string{}
	b := map[string]string{}
	for _, k := range []string{"x", "y", "z"} {
		a[k] = "<2 && >1"
	}
	for _, k := range []string{"z", "y", "x"} {
		b[k] = "<2 && >1"
	}
	fa, err := New().Fingerprint(a)
	require.NoError(t, err)
	fb, err := New().Fingerprint(b)
	require.NoError(t, err)
	require.Equal(t, fa, fb)

	fc, err := New().Fingerprint(map[string]string{"x": "<2 && >1"})
	require.NoError(t, err)
	require.NotEqual(t, fa, fc)
}
