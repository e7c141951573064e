package proto

// Fixed kernel address map. Runtime frames live below PayloadAddress; the
// loaded program occupies addresses above it.
const (
	KsupportAddress uint32 = 0x40400000
	PayloadAddress  uint32 = 0x40440000
	LastAddress     uint32 = 0x4fffffff
)
