package hal

// Register window layout (TCG PC Client TPM Interface Specification).
const (
	// LocalityShift is the bit position of the locality in an Address.
	LocalityShift = 12

	// LocalityPageSize is the size of one locality's register page.
	LocalityPageSize = 1 << LocalityShift

	// NumLocalities is the number of TIS localities (0-4).
	NumLocalities = 5

	// WindowSize is the size of a chip's complete register window.
	WindowSize = NumLocalities * LocalityPageSize

	// DefaultBaseAddress is the conventional physical base of the TIS
	// window on PC-class platforms.
	DefaultBaseAddress = 0xFED40000

	offsetMask = LocalityPageSize - 1
)

// Register offsets within a locality page.
const (
	RegAccess    uint16 = 0x0000 // TPM_ACCESS (8-bit)
	RegIntEnable uint16 = 0x0008 // TPM_INT_ENABLE (32-bit)
	RegIntVector uint16 = 0x000C // TPM_INT_VECTOR (8-bit)
	RegIntStatus uint16 = 0x0010 // TPM_INT_STATUS (32-bit)
	RegIntfCaps  uint16 = 0x0014 // TPM_INTF_CAPABILITY (32-bit)
	RegStatus    uint16 = 0x0018 // TPM_STS (8-bit status + 16-bit burst count)
	RegDataFIFO  uint16 = 0x0024 // TPM_DATA_FIFO
	RegDIDVID    uint16 = 0x0F00 // TPM_DID_VID (32-bit)
	RegRID       uint16 = 0x0F04 // TPM_RID (8-bit)
)

// TPM_ACCESS bits.
const (
	AccessEstablishment uint8 = 0x01 // tpmEstablishment
	AccessRequestUse    uint8 = 0x02 // requestUse
	AccessRequestPend   uint8 = 0x04 // pendingRequest
	AccessSeize         uint8 = 0x08 // Seize
	AccessBeenSeized    uint8 = 0x10 // beenSeized
	AccessActive        uint8 = 0x20 // activeLocality
	AccessValid         uint8 = 0x80 // tpmRegValidSts
)

// TPM_STS bits (low byte).
const (
	StatusResponseRetry uint8 = 0x02 // responseRetry
	StatusDataExpect    uint8 = 0x08 // Expect
	StatusDataAvail     uint8 = 0x10 // dataAvail
	StatusGo            uint8 = 0x20 // tpmGo
	StatusCommandReady  uint8 = 0x40 // commandReady
	StatusValid         uint8 = 0x80 // stsValid

	// StatusReadZero holds the bits that always read as zero on a
	// functioning chip. Any of them set means the register read is garbage.
	StatusReadZero uint8 = 0x23
)

// BurstCountShift and BurstCountMask extract the burst count from a 32-bit
// read of TPM_STS.
const (
	BurstCountShift = 8
	BurstCountMask  = 0xFFFF
)

// TPM_INT_ENABLE and TPM_INTF_CAPABILITY bits.
const (
	IntDataAvail      uint32 = 0x00000001
	IntStatusValid    uint32 = 0x00000002
	IntLocalityChange uint32 = 0x00000004
	IntLevelHigh      uint32 = 0x00000008
	IntLevelLow       uint32 = 0x00000010
	IntEdgeRising     uint32 = 0x00000020
	IntEdgeFalling    uint32 = 0x00000040
	IntCommandReady   uint32 = 0x00000080
	IntBurstStatic    uint32 = 0x00000100
	IntGlobalEnable   uint32 = 0x80000000
)
