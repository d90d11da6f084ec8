package vmregion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/ppage"
)

func TestAccessTriggersNotPresentFault(t *testing.T) {
	pool, err := ppage.New(4)
	require.NoError(t, err)
	defer pool.Close()

	var faulted []FaultKind
	var r *Region
	r = New(8192, 4096, func(vp uint64, kind FaultKind) error {
		faulted = append(faulted, kind)
		pg, _, err := pool.Alloc()
		if err != nil {
			return err
		}
		pg[0] = byte(vp)
		return r.Map(vp*r.pageSize, pg, ProtRead)
	})

	data, err := r.Access(0, false)
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[0])
	assert.Equal(t, []FaultKind{NotPresent}, faulted)
}

func TestAccessUpgradesReadOnlyToWritable(t *testing.T) {
	pool, err := ppage.New(2)
	require.NoError(t, err)
	defer pool.Close()

	var kinds []FaultKind
	var r *Region
	r = New(4096, 4096, func(vp uint64, kind FaultKind) error {
		kinds = append(kinds, kind)
		if kind == NotPresent {
			pg, _, err := pool.Alloc()
			if err != nil {
				return err
			}
			return r.Map(0, pg, ProtRead)
		}
		return r.Remap(0, ProtReadWrite)
	})

	_, err = r.Access(0, false)
	require.NoError(t, err)
	prot, ok := r.Mapped(0)
	assert.True(t, ok)
	assert.Equal(t, ProtRead, prot)

	_, err = r.Access(0, true)
	require.NoError(t, err)
	prot, ok = r.Mapped(0)
	assert.True(t, ok)
	assert.Equal(t, ProtReadWrite, prot)

	assert.Equal(t, []FaultKind{NotPresent, ReadOnlyWrite}, kinds)
}

func TestUnmapClearsMapping(t *testing.T) {
	pool, err := ppage.New(1)
	require.NoError(t, err)
	defer pool.Close()

	var r *Region
	r = New(4096, 4096, func(vp uint64, kind FaultKind) error {
		pg, _, err := pool.Alloc()
		if err != nil {
			return err
		}
		return r.Map(0, pg, ProtReadWrite)
	})
	_, err = r.Access(0, false)
	require.NoError(t, err)

	r.Unmap(0)
	_, ok := r.Mapped(0)
	assert.False(t, ok)
}

func TestAccessOutOfRangeRejected(t *testing.T) {
	r := New(4096, 4096, func(vp uint64, kind FaultKind) error { return nil })
	_, err := r.Access(8192, false)
	assert.Error(t, err)
}
