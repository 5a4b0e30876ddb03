package iso7816

// SELECT APPLICATION (ISO 7816-4, INS 'A4', P1 '04'):
// A terminal reaches a card application by its DF name (AID), possibly a prefix
// of it. P2 packs two fields:
// - Bits 4-3: what the card returns (FCI, FCP, FMD or nothing).
// - Bits 2-1: which matching application (first, last, next, previous), used
//   to walk several applications sharing the same prefix.

const selectByDFName byte = 0x04

// Occurrence selects which application matching the DF name is returned.
type Occurrence byte

const (
	FirstOccurrence    Occurrence = 0b00
	LastOccurrence     Occurrence = 0b01
	NextOccurrence     Occurrence = 0b10
	PreviousOccurrence Occurrence = 0b11
)

// ResponseControl selects the template returned by the card.
type ResponseControl byte

const (
	ReturnFCI    ResponseControl = 0b0000
	ReturnFCP    ResponseControl = 0b0100
	ReturnFMD    ResponseControl = 0b1000
	ReturnNoData ResponseControl = 0b1100
)

// NewSelectApplication builds a SELECT by DF name.
//
// The command is always case 3: T=0 readers cannot carry Lc and Le together, so
// the card answers 61xx and the Client fetches the FCI with GET RESPONSE.
func NewSelectApplication(cla Class, aid []byte, occ Occurrence, ctrl ResponseControl) *CommandAPDU {
	p2 := byte(ctrl)&0x0C | byte(occ)&0x03
	return NewCommandAPDU(cla, INS_SELECT, selectByDFName, p2, aid, 0).Named("Select Application")
}

// SelectByAID selects the first application matching aid and asks for its FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectApplication(cla, aid, FirstOccurrence, ReturnFCI)
}
