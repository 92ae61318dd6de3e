package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/davidaparicio/maestro/mem"
)

func TestCollectorRegistersAndGathers(t *testing.T) {
	dmap := mem.NewDmap(4096)
	alloc := mem.NewAllocator(dmap, 0, 4096)
	heap := mem.NewHeap(alloc)

	buf, err := heap.Alloc(64)
	require.NoError(t, err)
	require.NotNil(t, buf)

	c := NewCollector(alloc, heap)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	count := testutil.CollectAndCount(c)
	require.Greater(t, count, 0)
}
