package hls

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentFileName_ZeroPadsToDigits(t *testing.T) {
	require.Equal(t, "dataseg_0000042", SegmentFileName(42, 7))
	require.Equal(t, "dataseg_1", SegmentFileName(1, 1))
}

func TestParseSegmentIndex(t *testing.T) {
	idx, ok := ParseSegmentIndex("dataseg_0000042")
	require.True(t, ok)
	require.Equal(t, 42, idx)

	_, ok = ParseSegmentIndex("mdia_plist.m3u8")
	require.False(t, ok)
}

func TestRollingSHA1_MatchesWholeBufferChecksum(t *testing.T) {
	data := []byte("some segment bytes spread across several writes")
	want := sha1.Sum(data) //nolint:gosec

	hasher := newRollingSHA1()
	hasher.Write(data[:10])
	hasher.Write(data[10:25])
	hasher.Write(data[25:])

	require.Equal(t, hex.EncodeToString(want[:]), hasher.Sum())
}
