package zkhash

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestPedersenHashDeterministic(t *testing.T) {
	data := make([]byte, 62)
	for i := range data {
		data[i] = byte(i * 7)
	}

	h1 := PedersenHashHex(data)
	h2 := PedersenHashHex(data)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 66)

	data[61] ^= 0x01
	require.NotEqual(t, h1, PedersenHashHex(data))
}

func TestPedersenHashLengthSensitive(t *testing.T) {
	short := []byte{1, 2, 3}
	padded := []byte{1, 2, 3, 0}
	// zero windows still contribute a non-zero term
	require.NotEqual(t, PedersenHashHex(short), PedersenHashHex(padded))
}

func TestBasePoints(t *testing.T) {
	b0 := basePoint(0)
	require.Equal(t, "10457101036533406547632367118273992217979173478358440826365724437999023779287", b0.X.String())
	require.True(t, b0.InCurve())
	require.True(t, b0.InSubGroup())

	b1 := basePoint(1)
	require.True(t, b1.InSubGroup())
	require.NotEqual(t, 0, b0.X.Cmp(b1.X))
	require.Same(t, b0, basePoint(0))
}

func TestPedersenEmptyIsIdentity(t *testing.T) {
	p := PedersenPoint(nil)
	require.Equal(t, 0, p.X.Sign())
	require.Equal(t, int64(1), p.Y.Int64())
}

func TestSegmentScalar(t *testing.T) {
	// one window 1,0,0,0 -> 1 + 1 = 2
	require.Equal(t, big.NewInt(2), segmentScalar([]uint8{1, 0, 0, 0}))
	// sign bit negates: -(1 + 2) = -3
	require.Equal(t, big.NewInt(-3), segmentScalar([]uint8{0, 1, 0, 1}))
	// second window is shifted by 5 bits: 1 + (1 << 5)
	require.Equal(t, big.NewInt(33), segmentScalar([]uint8{0, 0, 0, 0, 0, 0, 0, 0}))
}

func TestHexRoundTrip(t *testing.T) {
	var e fr.Element
	e.SetUint64(123456789)

	s := ToHex(e)
	got, err := FromHex(s)
	require.NoError(t, err)
	require.True(t, e.Equal(&got))

	_, err = FromHex("0x" + fr.Modulus().Text(16))
	require.ErrorIs(t, err, ErrNotInField)

	_, err = FromHex("0xzz")
	require.Error(t, err)

	_, err = FromHex("")
	require.Error(t, err)
}

func TestHashLeftRight(t *testing.T) {
	var a, b fr.Element
	a.SetUint64(1)
	b.SetUint64(2)

	ab := HashLeftRight(a, b)
	ba := HashLeftRight(b, a)
	require.False(t, ab.Equal(&ba))

	again := HashLeftRight(a, b)
	require.True(t, ab.Equal(&again))
}

func TestTreeZeroVectors(t *testing.T) {
	z0 := ZeroValue()
	require.Equal(t, "0x2fe54c60d3acabf3343a35b6eba15db4821b340f76e741e2249685ed4899af6c", ToHex(z0))

	z1 := HashLeftRight(z0, z0)
	require.Equal(t, "0x256a6135777eee2fd26f54b8b7037a25439d5235caee224154186d2b8a52e31d", ToHex(z1))
}

func TestMiMCSpongeConstants(t *testing.T) {
	cts := mimcConstants()
	require.Len(t, cts, 220)
	require.True(t, cts[0].IsZero())
	require.True(t, cts[219].IsZero())
	require.False(t, cts[1].IsZero())
}

func TestZeroValue(t *testing.T) {
	z := ZeroValue()
	require.Equal(t, ToHex(z), ToHex(ZeroValue()))

	var v big.Int
	z.BigInt(&v)
	require.Equal(t, -1, v.Cmp(fr.Modulus()))
}
