package virtual

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// DefaultDFName is the name of the simulated application.
var DefaultDFName = []byte("1TIC.ICA")

// Application type bytes announcing each revision, with the PIN feature.
var applicationTypes = map[calypso.CardRevision]byte{
	calypso.Rev2_4:     0x01,
	calypso.Rev3_1:     0x21,
	calypso.Rev3_1CLAP: 0xA1,
	calypso.Rev3_2:     0x29,
}

const (
	defaultBufferIndicator = 0x06
	defaultCounter         = 0x000100
	pinAttempts            = 3
	rev2RecordSize         = 29
	maxRecordsPayload      = 250
)

// Card is a simulated Calypso card. Modifications made in a secure session are
// committed when the session closes with a valid terminal signature and dropped
// otherwise. A Card is not safe for concurrent use.
type Card struct {
	rev             calypso.CardRevision
	serial          []byte
	dfName          []byte
	bufferIndicator byte
	keys            map[calypso.AccessLevel]cardKey
	files           map[byte][][]byte
	random          io.Reader
	counter         int
	pin             []byte
	pinTries        int

	ratified             bool
	pendingRatification  bool
	session              *cardSession
	corruptNextSignature bool
	removed              bool
}

type cardKey struct {
	ref calypso.KeyReference
	key []byte
}

type cardSession struct {
	digest *digest
	files  map[byte][][]byte
	used   int
}

// CardOption configures a Card.
type CardOption func(*Card)

// WithRevision sets the revision announced in the startup information.
func WithRevision(rev calypso.CardRevision) CardOption {
	return func(c *Card) { c.rev = rev }
}

// WithDFName sets the application name returned in the FCI.
func WithDFName(name []byte) CardOption {
	return func(c *Card) { c.dfName = append([]byte(nil), name...) }
}

// WithBufferIndicator sets the buffer size indicator of the startup information.
func WithBufferIndicator(indicator byte) CardOption {
	return func(c *Card) { c.bufferIndicator = indicator }
}

// WithFile adds a linear file. Record n is records[n-1].
func WithFile(sfi byte, records ...[]byte) CardOption {
	return func(c *Card) {
		file := make([][]byte, len(records))
		for i, r := range records {
			file[i] = append([]byte(nil), r...)
		}
		c.files[sfi] = file
	}
}

// WithPIN enables the PIN feature.
func WithPIN(pin []byte) CardOption {
	return func(c *Card) { c.pin = append([]byte(nil), pin...) }
}

// WithCardRandom sets the source of the card challenges.
func WithCardRandom(r io.Reader) CardOption {
	return func(c *Card) { c.random = r }
}

// WithTransactionCounter sets the initial transaction counter.
func WithTransactionCounter(n int) CardOption {
	return func(c *Card) { c.counter = n }
}

// NewCard creates a card with the given serial number holding, for each access
// level, the diversified form of a SAM master key.
func NewCard(serial []byte, keys map[calypso.AccessLevel]Key, opts ...CardOption) (*Card, error) {
	if len(serial) != 8 {
		return nil, fmt.Errorf("virtual card: serial number of %d bytes, want 8", len(serial))
	}
	c := &Card{
		rev:             calypso.Rev3_1,
		serial:          append([]byte(nil), serial...),
		dfName:          DefaultDFName,
		bufferIndicator: defaultBufferIndicator,
		keys:            make(map[calypso.AccessLevel]cardKey, len(keys)),
		files:           make(map[byte][][]byte),
		random:          rand.Reader,
		counter:         defaultCounter,
		pinTries:        pinAttempts,
		ratified:        true,
	}
	for _, opt := range opts {
		opt(c)
	}
	for level, k := range keys {
		div, err := Diversify(k.Master, c.serial)
		if err != nil {
			return nil, fmt.Errorf("virtual card: key %s: %w", level, err)
		}
		c.keys[level] = cardKey{ref: k.Reference, key: div}
	}
	return c, nil
}

// Transmit processes one command APDU.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	if c.removed {
		return nil, fmt.Errorf("virtual card: %w", iso7816.ErrCardRemoved)
	}
	a, ok := parseAPDU(cmd)
	if !ok {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}

	ins := iso7816.Instruction(a.ins)
	if c.pendingRatification && ins != iso7816.INS_OPEN_SESSION {
		c.ratified = true
		c.pendingRatification = false
	}

	inSession := c.session != nil
	resp, err := c.process(a)
	if err != nil {
		return nil, err
	}
	if inSession && c.session != nil && ins != iso7816.INS_CLOSE_SESSION {
		c.session.digest.add(a.digested())
		c.session.digest.add(resp)
	}
	return resp, nil
}

// CorruptSignature makes the next successful Close Secure Session return a
// wrong card signature. The modifications are still committed.
func (c *Card) CorruptSignature() { c.corruptNextSignature = true }

// Remove simulates the card leaving the field: every later Transmit fails.
func (c *Card) Remove() { c.removed = true }

// Record returns a committed record, or nil.
func (c *Card) Record(sfi, number byte) []byte {
	file := c.files[sfi]
	if number == 0 || int(number) > len(file) {
		return nil
	}
	return append([]byte(nil), file[number-1]...)
}

// InSession reports whether a secure session is open.
func (c *Card) InSession() bool { return c.session != nil }

// Ratified reports whether the last session is ratified.
func (c *Card) Ratified() bool { return c.ratified }

// TransactionCounter returns the number of sessions the card can still open.
func (c *Card) TransactionCounter() int { return c.counter }

// Serial returns the serial number.
func (c *Card) Serial() []byte { return append([]byte(nil), c.serial...) }

// FCI returns the File Control Information of the application.
func (c *Card) FCI() []byte {
	startup := []byte{
		c.bufferIndicator,
		0x3C, // platform
		applicationTypes[c.rev],
		0x11, // subtype
		0x00, 0x01, 0x01,
	}
	fci := bertlv.NewComposite("6F",
		bertlv.NewTag("84", c.dfName),
		bertlv.NewComposite("A5",
			bertlv.NewComposite("BF0C",
				bertlv.NewTag("C7", c.serial),
				bertlv.NewTag("53", startup),
			),
		),
	)
	raw, err := bertlv.Encode([]bertlv.TLV{fci})
	if err != nil {
		panic(fmt.Sprintf("virtual card: encoding FCI: %v", err))
	}
	return raw
}

func (c *Card) process(a apdu) ([]byte, error) {
	ins := iso7816.Instruction(a.ins)
	if ins == iso7816.INS_SELECT {
		return c.selectApplication(a), nil
	}
	if iso7816.Class(a.cla) != c.rev.Class() {
		return reply(iso7816.SW_ERR_CLA_NOT_SUPPORTED), nil
	}

	switch ins {
	case iso7816.INS_GET_DATA:
		if a.p1 != 0x00 || a.p2 != 0x6F {
			return reply(iso7816.SW_ERR_REF_DATA_NOT_FOUND), nil
		}
		return reply(iso7816.SW_NO_ERROR, c.FCI()), nil
	case iso7816.INS_GET_CHALLENGE:
		if a.le != 8 {
			return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
		}
		challenge, err := c.randomBytes(8)
		if err != nil {
			return nil, err
		}
		return reply(iso7816.SW_NO_ERROR, challenge), nil
	case iso7816.INS_OPEN_SESSION:
		return c.openSession(a)
	case iso7816.INS_CLOSE_SESSION:
		return c.closeSession(a)
	case iso7816.INS_READ_RECORD:
		return c.readRecords(a), nil
	case iso7816.INS_UPDATE_RECORD, iso7816.INS_WRITE_RECORD, iso7816.INS_APPEND_RECORD:
		return c.modify(a, c.writeRecord), nil
	case iso7816.INS_INCREASE, iso7816.INS_DECREASE:
		return c.modify(a, c.updateCounter), nil
	case iso7816.INS_VERIFY:
		return c.verifyPIN(a), nil
	default:
		// Stored Value and the rest of the command set are not simulated.
		return reply(iso7816.SW_ERR_INS_INVALID), nil
	}
}

func (c *Card) selectApplication(a apdu) []byte {
	if a.p1 != 0x04 || len(a.data) == 0 || !bytes.HasPrefix(c.dfName, a.data) {
		return reply(iso7816.SW_ERR_FILE_NOT_FOUND)
	}
	return reply(iso7816.SW_NO_ERROR, c.FCI())
}

func (c *Card) randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.random, b); err != nil {
		return nil, fmt.Errorf("virtual card: reading random: %w", err)
	}
	return b, nil
}

func (c *Card) levelOf(keyIndex byte) (calypso.AccessLevel, cardKey, bool) {
	for _, level := range []calypso.AccessLevel{calypso.Perso, calypso.Load, calypso.Debit} {
		if level.KeyIndex() == keyIndex {
			k, ok := c.keys[level]
			return level, k, ok
		}
	}
	return 0, cardKey{}, false
}

func (c *Card) openSession(a apdu) ([]byte, error) {
	if c.session != nil {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT), nil
	}

	var keyIndex, record byte
	challenge := a.data
	switch c.rev {
	case calypso.Rev2_4:
		p1 := bits.Clear(a.p1, 8)
		keyIndex, record = bits.GetRange(p1, 3, 1), bits.GetRange(p1, 7, 4)
	case calypso.Rev3_2:
		keyIndex, record = bits.GetRange(a.p1, 3, 1), bits.GetRange(a.p1, 8, 4)
		if len(challenge) > 0 {
			challenge = challenge[1:]
		}
	default:
		keyIndex, record = bits.GetRange(a.p1, 3, 1), bits.GetRange(a.p1, 8, 4)
	}
	if len(challenge) != c.rev.ChallengeLength() {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	_, key, ok := c.levelOf(keyIndex)
	if !ok {
		return reply(iso7816.SW_ERR_FUNC_NOT_SUPPORTED), nil
	}
	if c.counter == 0 {
		return reply(iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO), nil
	}

	var recordData []byte
	if record > 0 {
		file, found := c.files[bits.GetRange(a.p2, 8, 4)]
		if !found {
			return reply(iso7816.SW_ERR_FILE_NOT_FOUND), nil
		}
		if int(record) > len(file) {
			return reply(iso7816.SW_ERR_RECORD_NOT_FOUND), nil
		}
		recordData = file[record-1]
	}

	openData, err := c.openData(key, recordData, record > 0)
	if err != nil {
		return nil, err
	}
	d, err := newDigest(key.key, challenge, openData)
	if err != nil {
		return nil, fmt.Errorf("virtual card: %w", err)
	}
	c.session = &cardSession{digest: d, files: cloneFiles(c.files)}
	c.counter--
	return reply(iso7816.SW_NO_ERROR, openData), nil
}

func (c *Card) openData(key cardKey, recordData []byte, withRecord bool) ([]byte, error) {
	counter := []byte{byte(c.counter >> 16), byte(c.counter >> 8), byte(c.counter)}

	switch c.rev {
	case calypso.Rev2_4:
		random, err := c.randomBytes(1)
		if err != nil {
			return nil, err
		}
		out := append([]byte{key.ref.KVC}, counter...)
		out = append(out, random...)
		if withRecord {
			padded := make([]byte, rev2RecordSize)
			copy(padded, recordData)
			out = append(out, padded...)
		}
		if !c.ratified {
			out = append(out, 0x00, 0x00)
		}
		return out, nil
	case calypso.Rev3_2:
		random, err := c.randomBytes(5)
		if err != nil {
			return nil, err
		}
		var flags byte
		if !c.ratified {
			flags = bits.Set(flags, 1)
		}
		out := append(counter, random...)
		out = append(out, flags, key.ref.KIF, key.ref.KVC, byte(len(recordData)))
		return append(out, recordData...), nil
	default:
		random, err := c.randomBytes(1)
		if err != nil {
			return nil, err
		}
		var ratification byte
		if !c.ratified {
			ratification = 0x01
		}
		out := append(counter, random...)
		out = append(out, ratification, key.ref.KIF, key.ref.KVC, byte(len(recordData)))
		return append(out, recordData...), nil
	}
}

func (c *Card) closeSession(a apdu) ([]byte, error) {
	s := c.session
	if s == nil {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT), nil
	}
	c.session = nil
	if len(a.data) == 0 {
		return reply(iso7816.SW_NO_ERROR), nil
	}

	n := len(a.data)
	if n != 4 && !(n == 8 && c.rev == calypso.Rev3_2) {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	expected, err := s.digest.signature(terminalHalf, n)
	if err != nil {
		return nil, fmt.Errorf("virtual card: %w", err)
	}
	if !bytes.Equal(expected, a.data) {
		return reply(iso7816.SW_ERR_SM_OBJ_INCORRECT), nil
	}
	signature, err := s.digest.signature(cardHalf, n)
	if err != nil {
		return nil, fmt.Errorf("virtual card: %w", err)
	}

	c.files = s.files
	if c.corruptNextSignature {
		signature[0] ^= 0xFF
		c.corruptNextSignature = false
	}
	c.ratified = a.p1&0x80 == 0
	c.pendingRatification = !c.ratified
	return reply(iso7816.SW_NO_ERROR, signature), nil
}

// workingFiles returns the files seen by the current command.
func (c *Card) workingFiles() map[byte][][]byte {
	if c.session != nil {
		return c.session.files
	}
	return c.files
}

func (c *Card) readRecords(a apdu) []byte {
	sfi, mode := bits.GetRange(a.p2, 8, 4), bits.GetRange(a.p2, 3, 1)
	file, ok := c.workingFiles()[sfi]
	if !ok {
		return reply(iso7816.SW_ERR_FILE_NOT_FOUND)
	}
	if a.p1 == 0 || int(a.p1) > len(file) {
		return reply(iso7816.SW_ERR_RECORD_NOT_FOUND)
	}

	switch mode {
	case 0x04:
		return reply(iso7816.SW_NO_ERROR, file[a.p1-1])
	case 0x05:
		limit := min(a.le, maxRecordsPayload)
		var out []byte
		for n := int(a.p1); n <= len(file); n++ {
			rec := file[n-1]
			if len(out)+2+len(rec) > limit {
				break
			}
			out = append(out, byte(n), byte(len(rec)))
			out = append(out, rec...)
		}
		return reply(iso7816.SW_NO_ERROR, out)
	default:
		return reply(iso7816.SW_ERR_WRONG_P1P2)
	}
}

// modify runs a modifying command, charging the session buffer when a session is open.
func (c *Card) modify(a apdu, apply func(apdu, map[byte][][]byte) []byte) []byte {
	if c.session == nil {
		return apply(a, c.files)
	}
	cost := 1
	if c.rev.IsRev3() {
		cost = len(a.raw) + 6 - 5
	}
	if c.session.used+cost > calypso.BufferCapacity(c.rev, c.bufferIndicator) {
		return reply(iso7816.SW_ERR_EXEC_NO_INFO)
	}
	resp := apply(a, c.session.files)
	if bytes.HasSuffix(resp, []byte{0x90, 0x00}) {
		c.session.used += cost
	}
	return resp
}

func (c *Card) writeRecord(a apdu, files map[byte][][]byte) []byte {
	if len(a.data) == 0 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH)
	}
	sfi := bits.GetRange(a.p2, 8, 4)
	file, ok := files[sfi]
	if !ok {
		return reply(iso7816.SW_ERR_FILE_NOT_FOUND)
	}

	if iso7816.Instruction(a.ins) == iso7816.INS_APPEND_RECORD {
		if a.p1 != 0x00 || bits.GetRange(a.p2, 3, 1) != 0 {
			return reply(iso7816.SW_ERR_WRONG_P1P2)
		}
		files[sfi] = slices.Insert(file, 0, append([]byte(nil), a.data...))
		return reply(iso7816.SW_NO_ERROR)
	}

	if bits.GetRange(a.p2, 3, 1) != 0x04 {
		return reply(iso7816.SW_ERR_WRONG_P1P2)
	}
	if a.p1 == 0 || int(a.p1) > len(file) {
		return reply(iso7816.SW_ERR_RECORD_NOT_FOUND)
	}
	rec := file[a.p1-1]
	if len(rec) < len(a.data) {
		rec = append(rec, make([]byte, len(a.data)-len(rec))...)
	}
	for i, b := range a.data {
		if iso7816.Instruction(a.ins) == iso7816.INS_WRITE_RECORD {
			rec[i] |= b
		} else {
			rec[i] = b
		}
	}
	file[a.p1-1] = rec
	return reply(iso7816.SW_NO_ERROR)
}

// updateCounter treats record 1 of the file as a sequence of 3-byte counters.
func (c *Card) updateCounter(a apdu, files map[byte][][]byte) []byte {
	if len(a.data) != 3 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH)
	}
	file, ok := files[bits.GetRange(a.p2, 8, 4)]
	if !ok || len(file) == 0 {
		return reply(iso7816.SW_ERR_FILE_NOT_FOUND)
	}
	offset := 3 * (int(a.p1) - 1)
	rec := file[0]
	if a.p1 == 0 || offset+3 > len(rec) {
		return reply(iso7816.SW_ERR_WRONG_P1P2)
	}

	current := int(rec[offset])<<16 | int(rec[offset+1])<<8 | int(rec[offset+2])
	delta := int(a.data[0])<<16 | int(a.data[1])<<8 | int(a.data[2])
	if iso7816.Instruction(a.ins) == iso7816.INS_DECREASE {
		delta = -delta
	}
	next := current + delta
	if next < 0 || next > 0xFFFFFF {
		return reply(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	value := []byte{byte(next >> 16), byte(next >> 8), byte(next)}
	copy(rec[offset:], value)
	return reply(iso7816.SW_NO_ERROR, value)
}

func (c *Card) verifyPIN(a apdu) []byte {
	switch {
	case c.pin == nil:
		return reply(iso7816.SW_ERR_INS_INVALID)
	case c.session != nil:
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT)
	case len(a.data) != 0 && len(a.data) != len(c.pin):
		return reply(iso7816.SW_ERR_WRONG_LENGTH)
	case c.pinTries == 0:
		return reply(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
	}

	if len(a.data) > 0 {
		if bytes.Equal(a.data, c.pin) {
			c.pinTries = pinAttempts
			return reply(iso7816.SW_NO_ERROR)
		}
		c.pinTries--
		if c.pinTries == 0 {
			return reply(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
		}
	}
	if c.pinTries == pinAttempts {
		return reply(iso7816.SW_NO_ERROR)
	}
	return reply(iso7816.SW_WARN_COUNTER_0 + iso7816.StatusWord(c.pinTries))
}

func cloneFiles(files map[byte][][]byte) map[byte][][]byte {
	out := maps.Clone(files)
	for sfi, file := range out {
		records := make([][]byte, len(file))
		for i, r := range file {
			records[i] = append([]byte(nil), r...)
		}
		out[sfi] = records
	}
	return out
}
