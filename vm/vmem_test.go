package vm

import (
	"testing"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/paging"
	"github.com/stretchr/testify/require"
)

func TestVMemBasic(t *testing.T) {
	v := New()
	require.False(t, v.IsBound())
	_, ok := v.Translate(0x1000)
	require.False(t, ok)
}

func TestVMemMapTranslate(t *testing.T) {
	v := New()
	virt := mem.VirtAddr(0x40000000)
	phys := mem.PhysAddr(0x2000)
	v.Map(phys, virt, paging.Present|paging.Writable|paging.User)
	got, ok := v.Translate(virt)
	require.True(t, ok)
	require.Equal(t, phys, got)
}

func TestVMemMapRange(t *testing.T) {
	v := New()
	base := mem.VirtAddr(0x60000000)
	v.MapRange(0x4000, base, 3, paging.Present|paging.Writable)
	for i := uint(0); i < 3; i++ {
		got, ok := v.Translate(base.Add(uintptr(i) * mem.PAGE_SIZE))
		require.True(t, ok)
		require.Equal(t, mem.PhysAddr(0x4000+int(i)*mem.PAGE_SIZE), got)
	}
}

func TestVMemUnmap(t *testing.T) {
	v := New()
	virt := mem.VirtAddr(0x70000000)
	v.Map(0x5000, virt, paging.Present|paging.Writable)
	v.Unmap(virt)
	_, ok := v.Translate(virt)
	require.False(t, ok)
	// second unmap is a no-op
	v.Unmap(virt)
}

func TestVMemCloseWhileBoundPanics(t *testing.T) {
	v := New()
	v.Bind()
	defer func() {
		recover()
	}()
	v.Close()
	t.Fatal("expected panic")
}

func TestSwitchRestoresPrevious(t *testing.T) {
	a := New()
	b := New()
	a.Bind()
	Switch(b, func() {
		require.True(t, b.IsBound())
	})
	require.True(t, a.IsBound())
}
