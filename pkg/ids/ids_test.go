package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringIdRoundTrip(t *testing.T) {
	s := NewStringId("my-session")
	buf := make([]byte, s.EncodedLen())
	n, err := s.Write(buf)
	require.NoError(t, err)
	require.Equal(t, s.EncodedLen(), n)

	var got StringId
	n2, err := got.Read(buf)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, "my-session", got.Value)
}

func TestStringIdTruncatesOver64Bytes(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	s := NewStringId(string(long))
	require.Len(t, s.Value, MaxStringIdLen)
}

func TestUint32RoundTrip(t *testing.T) {
	v := Uint32(123456789)
	buf := make([]byte, v.EncodedLen())
	_, err := v.Write(buf)
	require.NoError(t, err)

	var got Uint32
	_, err = got.Read(buf)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestListRoundTrip(t *testing.T) {
	l := NewList[*Uint32](4)
	a, b := Uint32(1), Uint32(2)
	l.Items = []*Uint32{&a, &b}

	buf := make([]byte, l.EncodedLen())
	_, err := l.Write(buf)
	require.NoError(t, err)

	got := NewList[*Uint32](4)
	_, err = got.Read(buf, func() *Uint32 { return new(Uint32) })
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	require.Equal(t, Uint32(1), *got.Items[0])
	require.Equal(t, Uint32(2), *got.Items[1])
}

func TestListRejectsOverCapacityOnWrite(t *testing.T) {
	l := NewList[*Uint32](1)
	a, b := Uint32(1), Uint32(2)
	l.Items = []*Uint32{&a, &b}

	buf := make([]byte, l.EncodedLen())
	_, err := l.Write(buf)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestBitSetRoundTrip(t *testing.T) {
	b := NewBitSet(10)
	b.Set(0, true)
	b.Set(9, true)
	b.Set(5, false)

	buf := make([]byte, b.EncodedLen())
	_, err := b.Write(buf)
	require.NoError(t, err)

	got := &BitSet{}
	_, err = got.Read(buf)
	require.NoError(t, err)
	require.True(t, got.Get(0))
	require.True(t, got.Get(9))
	require.False(t, got.Get(5))
}

func TestBoundedStringRejectsOverCapacity(t *testing.T) {
	s := NewBoundedString(4)
	s.Value = "toolong"
	buf := make([]byte, s.EncodedLen())
	_, err := s.Write(buf)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}
