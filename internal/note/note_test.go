package note

import (
	"strings"
	"testing"

	"privpool-backend/internal/models"

	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testRootKey(t *testing.T) []byte {
	t.Helper()
	key, err := RootKeyFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	require.Len(t, key, 64)
	return key
}

func TestDeriveIsPure(t *testing.T) {
	rootKey := testRootKey(t)
	pair := models.NewPair("ETH", "0.1")

	first := Derive(rootKey, 0, 1, pair)
	second := Derive(rootKey, 0, 1, pair)

	require.Equal(t, first.CommitmentHex, second.CommitmentHex)
	require.Equal(t, first.NullifierHex, second.NullifierHex)
	require.Equal(t, first.Preimage, second.Preimage)
	require.True(t, strings.HasPrefix(first.CommitmentHex, "0x"))
	require.Len(t, first.CommitmentHex, 66)
}

func TestDeriveSeparatesInputs(t *testing.T) {
	rootKey := testRootKey(t)
	pair := models.NewPair("eth", "0.1")
	base := Derive(rootKey, 0, 1, pair)

	tests := []struct {
		name string
		note *models.Note
	}{
		{"index", Derive(rootKey, 1, 1, pair)},
		{"chain", Derive(rootKey, 0, 5, pair)},
		{"currency", Derive(rootKey, 0, 1, models.NewPair("dai", "0.1"))},
		{"amount", Derive(rootKey, 0, 1, models.NewPair("eth", "1"))},
		{"root key", Derive(append([]byte{1}, rootKey[1:]...), 0, 1, pair)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEqual(t, base.CommitmentHex, tt.note.CommitmentHex)
			require.NotEqual(t, base.NullifierHex, tt.note.NullifierHex)
		})
	}
}

func TestDeriveLongRootKey(t *testing.T) {
	key := make([]byte, 100)
	n := Derive(key, 3, 1, models.NewPair("eth", "1"))
	require.Equal(t, uint32(3), n.DepositIndex)
	require.NotEmpty(t, n.CommitmentHex)
}

func TestParseSerializeRoundTrip(t *testing.T) {
	n := Derive(testRootKey(t), 7, 1, models.NewPair("eth", "0.1"))

	parsed, err := Parse(Serialize(n))
	require.NoError(t, err)
	require.Equal(t, n.Preimage, parsed.Preimage)
	require.Equal(t, n.Nullifier, parsed.Nullifier)
	require.Equal(t, n.Secret, parsed.Secret)
	require.Equal(t, n.CommitmentHex, parsed.CommitmentHex)
	require.Equal(t, n.NullifierHex, parsed.NullifierHex)

	bare, err := Parse(strings.TrimPrefix(Serialize(n), "0x"))
	require.NoError(t, err)
	require.Equal(t, n.CommitmentHex, bare.CommitmentHex)
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"0x",
		"0x1234",
		"0x" + strings.Repeat("ab", PreimageLength+1),
		"0x" + strings.Repeat("zz", PreimageLength),
	}
	for _, in := range tests {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrInvalidNote, in)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	pair := models.NewPair("eth", "0.1")
	n := Derive(testRootKey(t), 2, 5, pair)

	s := FormatBackup(pair, 5, n)
	require.True(t, strings.HasPrefix(s, "privpool-eth-0.1-5-0x"))

	gotPair, chainID, got, err := ParseBackup(s)
	require.NoError(t, err)
	require.Equal(t, pair, gotPair)
	require.Equal(t, int64(5), chainID)
	require.Equal(t, n.CommitmentHex, got.CommitmentHex)

	_, _, _, err = ParseBackup("tornado-eth-0.1-5-0x00")
	require.ErrorIs(t, err, ErrInvalidNote)
}

func TestRootKeyFromMnemonicRejectsBadChecksum(t *testing.T) {
	_, err := RootKeyFromMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", "")
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}
