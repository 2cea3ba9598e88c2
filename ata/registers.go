package ata

// Reg names a controller register. The mapping from a Reg to a bus address
// is the business of the Port implementation; register layout and bit
// meanings follow the ATA/ATAPI-6 command block conventions.
type Reg uint8

const (
	// RegData is the 16-bit data register. It shall only be accessed for
	// PIO transfer while DRQ is set.
	RegData Reg = 0x0

	// RegError (read) and RegFeatures (write) share an address.
	RegError    Reg = 0x1
	RegFeatures Reg = 0x1

	RegSectCount Reg = 0x2
	RegSect      Reg = 0x3
	RegCylLow    Reg = 0x4
	RegCylHigh   Reg = 0x5

	// RegDeviceHead selects the device and carries the LBA28 high nibble.
	RegDeviceHead Reg = 0x6

	// RegStatus (read) and RegCommand (write) share an address. Reading
	// the status register acknowledges a pending device interrupt.
	RegStatus  Reg = 0x7
	RegCommand Reg = 0x7

	// RegControl (write) and RegAltStatus (read) share an address.
	// Reading the alternate status does not acknowledge interrupts.
	RegControl   Reg = 0x8
	RegAltStatus Reg = 0x8

	RegDA Reg = 0x9

	// LBA48 registers. The low halves alias the LBA28 registers.
	RegSecCountLow  Reg = 0x2
	RegLBA0         Reg = 0x3
	RegLBA1         Reg = 0x4
	RegLBA2         Reg = 0x5
	RegSecCountHigh Reg = 0xA
	RegLBA3         Reg = 0xB
	RegLBA4         Reg = 0xC
	RegLBA5         Reg = 0xD
)

// Device control register bits.
const (
	ControlNIEN = 0x02
	ControlSRST = 0x04
	ControlHOB  = 0x80
)

// Status register bits.
const (
	StatusBSY  = 0x80
	StatusDRDY = 0x40
	StatusDF   = 0x20
	StatusDSC  = 0x10
	StatusDRQ  = 0x08
	StatusCORR = 0x04
	StatusIDX  = 0x02
	StatusERR  = 0x01
)

// Commands used by this driver.
const (
	CommandIdentifyDevice = 0xEC
	CommandReadSectors    = 0x20
	CommandReadSectorsExt = 0x24
	CommandStandby        = 0xE0
	CommandSleep          = 0xE6
)

// Device select bits for the device/head register.
const (
	Device0       = 0x00
	Device1       = 0x10
	LBAAddressing = 0x40
)

// BlockSize is the fixed logical block size in bytes. Regardless of the
// physical sector size of the drive, data is addressed and returned in
// 512 byte units.
const BlockSize = 512

// BlocksPerMB is the number of 512 byte blocks per megabyte.
const BlocksPerMB = 2048
