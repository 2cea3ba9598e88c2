package sim

// identifyData builds the 512 byte IDENTIFY DEVICE response for the
// simulated drive.
func (c *Controller) identifyData() []byte {
	var words [256]uint16

	words[1] = c.opts.CHS[0]
	words[3] = c.opts.CHS[1]
	words[6] = c.opts.CHS[2]

	packString(words[10:20], c.opts.Serial)
	packString(words[23:27], c.opts.Firmware)
	packString(words[27:47], c.opts.Model)

	// Major version bits: ATA-4 through ATA-6.
	words[80] = 1<<4 | 1<<5 | 1<<6

	// Word 83 bit 14 marks the word as valid, bit 10 advertises LBA48.
	words[83] = 1 << 14
	if c.opts.LBA48 {
		words[83] |= 1 << 10

		words[100] = uint16(c.opts.Sectors)
		words[101] = uint16(c.opts.Sectors >> 16)
		words[102] = uint16(c.opts.Sectors >> 32)
		words[103] = uint16(c.opts.Sectors >> 48)
	}

	lba28 := c.opts.Sectors
	if lba28 > 0x0FFFFFFF {
		lba28 = 0x0FFFFFFF
	}
	words[60] = uint16(lba28)
	words[61] = uint16(lba28 >> 16)

	if !c.opts.NoChecksum {
		// The low byte of word 255 carries the A5h signature and the high
		// byte a checksum making all 512 response bytes sum to zero.
		var sum uint8
		for _, w := range words[:255] {
			sum += uint8(w)
			sum += uint8(w >> 8)
		}
		sum += 0xA5

		chk := uint8(0) - sum
		if c.opts.CorruptChecksum {
			chk++
		}
		words[255] = uint16(chk)<<8 | 0xA5
	}

	data := make([]byte, 512)
	for i, w := range words {
		data[2*i] = uint8(w)
		data[2*i+1] = uint8(w >> 8)
	}
	return data
}

// packString stores s into identify words as space-padded big-endian
// character pairs.
func packString(words []uint16, s string) {
	chars := len(words) * 2
	padded := make([]byte, chars)
	for i := 0; i < chars; i++ {
		if i < len(s) {
			padded[i] = s[i]
		} else {
			padded[i] = ' '
		}
	}
	for i := range words {
		words[i] = uint16(padded[2*i])<<8 | uint16(padded[2*i+1])
	}
}
