package boot

import (
	"testing"

	"github.com/disnoca/sufsos/internal/bootio"
)

func TestInitWiresMemoryManagerAndSlabAllocator(t *testing.T) {
	s := Init(bootio.MemoryMap{Regions: []bootio.MemoryRegion{
		{Addr: 0, Len: 16 * 1024 * 1024, Type: bootio.MemAvailable},
	}}, 1<<16)

	if s.Mem == nil || s.Slab == nil || s.PgframeCache == nil {
		t.Fatalf("expected a fully wired Storage, got %+v", s)
	}
	if s.PgframeCache.ObjSize() != pgframeDescSize {
		t.Fatalf("pgframe cache obj size = %d, want %d", s.PgframeCache.ObjSize(), pgframeDescSize)
	}

	addr, _, ok := s.Slab.Kmalloc(100)
	if !ok {
		t.Fatalf("expected the wired allocator to serve kmalloc requests")
	}
	if _, ok := s.Mem.Table.Lookup(addr); !ok {
		t.Fatalf("expected a frame table stamp for the kmalloc'd address")
	}
}
