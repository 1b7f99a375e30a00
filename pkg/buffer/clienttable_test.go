package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/owlnet/pkg/ids"
)

func TestClientTableAddGetRemove(t *testing.T) {
	tbl := NewClientTable()
	tbl.Add(&ClientRecord{Id: 1})
	tbl.Add(&ClientRecord{Id: 2})
	require.Equal(t, 2, tbl.Len())

	r, ok := tbl.Get(1)
	require.True(t, ok)
	require.Equal(t, ids.ClientId(1), r.Id)

	tbl.Remove(1)
	require.Equal(t, 1, tbl.Len())
	_, ok = tbl.Get(1)
	require.False(t, ok)
}

func TestClientTableAllByAdmissionPreservesOrder(t *testing.T) {
	tbl := NewClientTable()
	tbl.Add(&ClientRecord{Id: 3})
	tbl.Add(&ClientRecord{Id: 1})
	tbl.Add(&ClientRecord{Id: 2})

	ordered := tbl.AllByAdmission()
	require.Len(t, ordered, 3)
	require.Equal(t, ids.ClientId(3), ordered[0].Id)
	require.Equal(t, ids.ClientId(1), ordered[1].Id)
	require.Equal(t, ids.ClientId(2), ordered[2].Id)
}

func TestClientTableIdsExceptExcludesGivenId(t *testing.T) {
	tbl := NewClientTable()
	tbl.Add(&ClientRecord{Id: 1})
	tbl.Add(&ClientRecord{Id: 2})
	tbl.Add(&ClientRecord{Id: 3})

	ids_ := tbl.IdsExcept(2)
	require.Equal(t, []ids.ClientId{1, 3}, ids_)
}
