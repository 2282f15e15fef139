package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHex(t *testing.T) {
	t.Parallel()

	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hex(nil))
	require.Equal(t, Hex([]byte("<html>")), Hex([]byte("<html>")))
	require.NotEqual(t, Hex([]byte("a")), Hex([]byte("b")))
}
