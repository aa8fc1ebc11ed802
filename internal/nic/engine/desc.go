package engine

// Canonical descriptor status-word bit positions: Am79c971's RMD1/TMD1
// layout, ported from AM79C971_RMD1_*/TMD1_* in common/dev_am79c971.h.
// These are the defaults every Profile falls back to when it leaves
// its own OwnBit/ErrorBit/FirstBit/LastBit fields zero; a chip whose
// bits sit at different positions, or in a different physical word
// entirely (DEC21140's RDES0/TDES0 put the ownership bit in word 0,
// not word 1), sets those fields and, if the word layout itself
// doesn't fit the style-permutation model below, its own
// Profile.RXDescRead/TXDescRead and writeback counterparts.
const (
	BitOwn   uint32 = 0x80000000 // 1 = device-owned, ready to act
	BitError uint32 = 0x40000000
	BitSTP   uint32 = 0x02000000 // start of packet
	BitENP   uint32 = 0x01000000 // end of packet

	// RX-direction overloads of the high status bits, reported but not
	// acted on by the generic ring (a framing/overflow error still
	// delivers what was received).
	RXBitFraming  uint32 = 0x20000000
	RXBitOverflow uint32 = 0x10000000
)

// LenMask is the low 12-bit buffer/byte-count field width of
// Am79c971's RMD1/RMD2, the default when Profile.LenMask is zero. A
// chip with a narrower length field (DEC21140's 11-bit RDES1/TDES1)
// sets Profile.LenMask explicitly.
const LenMask uint32 = 0x00000FFF

// styleLayout describes which physical descriptor word carries the
// buffer address and the byte count for one software-style register
// value; the generic reader/writer built from it always treats word 1
// as the status word and word 3 as the user word, matching the case 2
// / case 3 swap in Am79c971's rxdesc_read/txdesc_read. A chip with no
// software-style register, or whose status word lives elsewhere
// (DEC21140), supplies its own RXDescRead/TXDescRead pair instead of
// relying on this table.
type styleLayout struct {
	bufAddrWord int
	countWord   int
}

var defaultStyles = map[uint8]styleLayout{
	2: {bufAddrWord: 0, countWord: 2},
	3: {bufAddrWord: 2, countWord: 0},
}

// Desc is a descriptor's semantic fields, already de-permuted out of
// whichever physical words a chip's Profile stores them in.
type Desc struct {
	BufAddr uint32
	Status  uint32
	Count   uint32
	User    uint32
}

// Profile parameterizes the engine for one emulated chip: descriptor
// size (rx_desc_size/tx_desc_size, collapsed into one DescSize since
// every chip in this pack rings both directions with the same element
// size), the decoded ownership/framing bit values, the software-style
// buffer/count word swap, and — for a chip the swap model can't
// describe — the desc_read/desc_writeback functions themselves.
type Profile struct {
	Name string

	// MaxFrameSize truncates oversized RX frames, e.g. 2048 for
	// Am79c971 and DEC21140, 4096 for i8255x.
	MaxFrameSize int

	// TXBurst bounds how many descriptors one TX scan pass drains,
	// e.g. AM79C971_TXRING_PASS_COUNT=16, DEC21140_TXRING_PASS_COUNT=32.
	TXBurst int

	// LengthIsNegated selects the Am79c971 family's two's-complement
	// buffer-length encoding (~(len-1) & LenMask); chips that store
	// the buffer length directly (DEC21140) leave this false.
	LengthIsNegated bool

	// LenMask widens or narrows the buffer/byte-count field decoded by
	// DecodeLen/EncodeLen. Zero defaults to Am79c971's 12-bit field;
	// DEC21140 sets 0x7FF for its 11-bit RDES1/TDES1 length field.
	LenMask uint32

	// POSFraming skips Ethernet MAC-address filtering and ISL
	// rewriting for HDLC-framed POS interfaces.
	POSFraming bool

	// DefaultStyle is the software style assumed before the guest
	// programs a BCR-equivalent style register.
	DefaultStyle uint8

	// DescSize is the byte size of one ring element. Zero defaults to
	// 16 (four 32-bit words), the shape every profile in this package
	// currently uses; rxAddr/txAddr stride the ring by this value
	// instead of a hardcoded constant.
	DescSize uint32

	// OwnBit, ErrorBit, FirstBit, LastBit are the decoded status-word
	// bit values the ring engine tests against Desc.Status once
	// RXDescRead/TXDescRead has de-permuted a descriptor. Zero defaults
	// to Am79c971's RMD1/TMD1 OWN/ERR/STP/ENP positions (BitOwn/
	// BitError/BitSTP/BitENP). A chip is free to pick any nonzero
	// values here and have its RXDescRead/TXDescRead compose Desc.Status
	// to match, even when, as with DEC21140, OWN and FS/LS live in
	// different physical words for RX than for TX — the ring engine
	// only ever sees the one composed Status field, never the raw
	// words.
	OwnBit, ErrorBit, FirstBit, LastBit uint32

	// Styles overrides the package's default software-style table
	// (buffer-address/count word swap) for a chip with its own style
	// register encoding. Left nil, the generic reader/writer falls
	// back to defaultStyles.
	Styles map[uint8]styleLayout

	// RXDescRead/RXDescWriteback and TXDescRead/TXDescWriteback let a
	// chip whose descriptor word layout the style-swap model can't
	// express plug in its own decode/encode entirely — the engine's
	// desc_read/desc_writeback parameter pair, split by direction
	// because some chips don't lay out their RX and TX descriptors the
	// same way. DEC21140 is the motivating case: RDES0 packs OWN
	// together with FS/LS/the received byte count, while TDES0 holds
	// OWN alone and TDES1 carries FS/LS/SET/the buffer length — two
	// genuinely different word layouts on one chip, not a style
	// permutation of the same one. Left nil, each defaults to a
	// generic word-1-status/word-3-user builder assuming Am79c971's
	// shape, which is identical for RX and TX, so profiles that don't
	// need the split (everything but DEC21140 in this pack) can leave
	// all four fields unset.
	RXDescRead      func(mem GuestMem, addr uint32, style uint8) (Desc, error)
	RXDescWriteback func(mem GuestMem, addr uint32, d Desc, style uint8, writeCount bool) error
	TXDescRead      func(mem GuestMem, addr uint32, style uint8) (Desc, error)
	TXDescWriteback func(mem GuestMem, addr uint32, d Desc, style uint8, writeCount bool) error
}

func (p Profile) descSize() uint32 {
	if p.DescSize != 0 {
		return p.DescSize
	}
	return 16
}

func (p Profile) ownBit() uint32 {
	if p.OwnBit != 0 {
		return p.OwnBit
	}
	return BitOwn
}

func (p Profile) errorBit() uint32 {
	if p.ErrorBit != 0 {
		return p.ErrorBit
	}
	return BitError
}

func (p Profile) firstBit() uint32 {
	if p.FirstBit != 0 {
		return p.FirstBit
	}
	return BitSTP
}

func (p Profile) lastBit() uint32 {
	if p.LastBit != 0 {
		return p.LastBit
	}
	return BitENP
}

func (p Profile) lenMask() uint32 {
	if p.LenMask != 0 {
		return p.LenMask
	}
	return LenMask
}

func (p Profile) styleLayoutFor(style uint8) styleLayout {
	styles := p.Styles
	if styles == nil {
		styles = defaultStyles
	}
	if l, ok := styles[style]; ok {
		return l
	}
	if l, ok := styles[p.DefaultStyle]; ok {
		return l
	}
	return defaultStyles[2]
}

func (p Profile) genericDescRead() func(GuestMem, uint32, uint8) (Desc, error) {
	return func(mem GuestMem, addr uint32, style uint8) (Desc, error) {
		return readDescWords(mem, addr, p.descSize(), 1, 3, p.styleLayoutFor(style))
	}
}

func (p Profile) genericDescWriteback() func(GuestMem, uint32, Desc, uint8, bool) error {
	return func(mem GuestMem, addr uint32, d Desc, style uint8, writeCount bool) error {
		if writeCount {
			l := p.styleLayoutFor(style)
			if err := mem.WriteUint32(addr+uint32(4*l.countWord), d.Count); err != nil {
				return err
			}
		}
		return mem.WriteUint32(addr+4, d.Status)
	}
}

// rxDescRead returns the profile's RX desc_read function, building the
// generic word-1-status/word-3-user reader when the profile doesn't
// supply its own.
func (p Profile) rxDescRead() func(GuestMem, uint32, uint8) (Desc, error) {
	if p.RXDescRead != nil {
		return p.RXDescRead
	}
	return p.genericDescRead()
}

// rxDescWriteback mirrors rxDescRead for writeback.
func (p Profile) rxDescWriteback() func(GuestMem, uint32, Desc, uint8, bool) error {
	if p.RXDescWriteback != nil {
		return p.RXDescWriteback
	}
	return p.genericDescWriteback()
}

// txDescRead returns the profile's TX desc_read function, building the
// generic word-1-status/word-3-user reader when the profile doesn't
// supply its own.
func (p Profile) txDescRead() func(GuestMem, uint32, uint8) (Desc, error) {
	if p.TXDescRead != nil {
		return p.TXDescRead
	}
	return p.genericDescRead()
}

// txDescWriteback mirrors txDescRead for writeback.
func (p Profile) txDescWriteback() func(GuestMem, uint32, Desc, uint8, bool) error {
	if p.TXDescWriteback != nil {
		return p.TXDescWriteback
	}
	return p.genericDescWriteback()
}

// readDescWords reads a descriptor's words and de-permutes them,
// given which physical word holds the status and user fields and
// which words the style swap assigns to the buffer address and count.
func readDescWords(mem GuestMem, addr uint32, size uint32, statusWord, userWord int, l styleLayout) (Desc, error) {
	n := int(size / 4)
	raw := make([]uint32, n)
	for i := range raw {
		v, err := mem.ReadUint32(addr + uint32(4*i))
		if err != nil {
			return Desc{}, err
		}
		raw[i] = v
	}
	d := Desc{
		BufAddr: raw[l.bufAddrWord],
		Status:  raw[statusWord],
		Count:   raw[l.countWord],
	}
	if userWord >= 0 && userWord < n {
		d.User = raw[userWord]
	}
	return d, nil
}

// DecodeLen converts a descriptor's raw length field into a byte
// count, applying the profile's two's-complement convention and mask
// width.
func (p Profile) DecodeLen(raw uint32) int {
	mask := p.lenMask()
	v := raw & mask
	if p.LengthIsNegated {
		v = (^(v - 1)) & mask
	}
	return int(v)
}

// EncodeLen is the inverse of DecodeLen, merging the result into the
// low bits of base (the other status bits are preserved).
func (p Profile) EncodeLen(n int, base uint32) uint32 {
	mask := p.lenMask()
	v := uint32(n) & mask
	if p.LengthIsNegated {
		v = (^(v - 1)) & mask
	}
	return (base &^ mask) | v
}
