package po

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// RECORD COMMANDS:
// Calypso record files are addressed by SFI and record number. P2 carries the
// SFI in bits 8-4 and a mode selector in bits 3-1:
//   - Read Records:  SFI*8 + 4 (one record) or SFI*8 + 5 (from P1 to the last).
//   - Update/Write:  SFI*8 + 4 (record P1).
//   - Append Record: SFI*8 (P1 = 0, the new record becomes record 1).
// SFI 0 designates the current EF.

// ReadMode selects how many records Read Records returns.
type ReadMode byte

const (
	ReadOneRecord       ReadMode = 0x04
	ReadMultipleRecords ReadMode = 0x05
)

func (m ReadMode) String() string {
	switch m {
	case ReadOneRecord:
		return "One record"
	case ReadMultipleRecords:
		return "Multiple records"
	default:
		return fmt.Sprintf("Unknown Mode (0x%X)", byte(m))
	}
}

// Record is one record read from the card.
type Record struct {
	Number byte
	Data   []byte
}

// Records is the ordered result of Read Records.
type Records []Record

// Get returns the data of record n.
func (r Records) Get(n byte) ([]byte, bool) {
	for _, rec := range r {
		if rec.Number == n {
			return rec.Data, true
		}
	}
	return nil, false
}

var readStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   swBinaryFile,
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: swSecurity,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     swAccess,
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   swNoCurrentEF,
	iso7816.SW_ERR_FILE_NOT_FOUND:          swFileNotFound,
	// An absent record means no data for the caller, not a failure.
	iso7816.SW_ERR_RECORD_NOT_FOUND: {Successful: true, Description: swRecordMissing.Description},
	iso7816.SW_ERR_WRONG_P1P2:       swP2,
})

// ReadRecords reads one record, or all records from a given one.
type ReadRecords struct {
	command
	SFI    byte
	Record byte
	Mode   ReadMode
}

// NewReadRecords builds Read Records. The SFI must be in [0,31] and the record in [1,255].
func NewReadRecords(rev calypso.CardRevision, sfi, record byte, mode ReadMode) (*ReadRecords, error) {
	const name = "Read Records"
	if err := checkSFI(name, sfi); err != nil {
		return nil, err
	}
	if err := checkRecord(name, record); err != nil {
		return nil, err
	}
	if mode != ReadOneRecord && mode != ReadMultipleRecords {
		return nil, calypso.NewEncodingError(name, "unknown read mode %02X", byte(mode))
	}
	return &ReadRecords{
		command: newCommand(rev, name, iso7816.INS_READ_RECORD, record, sfi*8+byte(mode), nil, iso7816.MaxShortLe, readStatuses),
		SFI:     sfi,
		Record:  record,
		Mode:    mode,
	}, nil
}

// Decode returns the records found in the response. In multiple mode the data-out
// is a sequence of [record number][length][data] blocks.
func (c *ReadRecords) Decode(resp *iso7816.ResponseAPDU) (Records, error) {
	if resp.Status != iso7816.SW_NO_ERROR || len(resp.Data) == 0 {
		return nil, nil
	}
	if c.Mode == ReadOneRecord {
		return Records{{Number: c.Record, Data: append([]byte(nil), resp.Data...)}}, nil
	}

	var out Records
	data := resp.Data
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return out, calypso.NewEncodingError(c.apdu.Name, "truncated record header at offset %d", i)
		}
		number, length := data[i], int(data[i+1])
		i += 2
		if i+length > len(data) {
			return out, calypso.NewEncodingError(c.apdu.Name, "record %d announces %d bytes, %d available", number, length, len(data)-i)
		}
		out = append(out, Record{Number: number, Data: append([]byte(nil), data[i:i+length]...)})
		i += length
	}
	return out, nil
}

// Describe generates a report of a Read Records exchange.
func (c *ReadRecords) Describe(resp *iso7816.ResponseAPDU) string {
	var sb strings.Builder
	sb.WriteString("=== READ RECORDS REPORT ===\n")

	target := "Current EF"
	if c.SFI > 0 {
		target = fmt.Sprintf("SFI %02X (%d)", c.SFI, c.SFI)
	}
	sb.WriteString(fmt.Sprintf("[1] Command: %s\n", c.apdu))
	sb.WriteString(fmt.Sprintf("    + Target:  %s\n", target))
	sb.WriteString(fmt.Sprintf("    + Record:  %d\n", c.Record))
	sb.WriteString(fmt.Sprintf("    + Mode:    %02X -> %s\n", byte(c.Mode), c.Mode))

	if resp == nil {
		sb.WriteString("[2] No response")
		return sb.String()
	}

	resultMsg := "[OK]"
	if !c.statuses.IsSuccessful(resp.Status) {
		resultMsg = "[!!]"
	}
	sb.WriteString(fmt.Sprintf("[2] Status:  %s %s %s\n", resultMsg, resp.Status, c.statuses.Description(resp.Status)))

	records, err := c.Decode(resp)
	if err != nil {
		sb.WriteString(fmt.Sprintf("    + Error:   %v", err))
		return sb.String()
	}
	if len(records) == 0 {
		sb.WriteString("    + No data")
		return sb.String()
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("    - Record %d: %X", rec.Number, rec.Data))
	}
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

var updateStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_EXEC_NO_INFO:            swTooManyMods,
	iso7816.SW_ERR_WRONG_LENGTH:            swWrongLength,
	iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   swBinaryFile,
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: swSecurity,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     swAccess,
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   swNoCurrentEF,
	iso7816.SW_ERR_FILE_NOT_FOUND:          swFileNotFound,
	iso7816.SW_ERR_RECORD_NOT_FOUND:        swRecordMissing,
	iso7816.SW_ERR_WRONG_P1P2:              swP2,
})

// writeRecord is the shape shared by Update, Write and Append Record.
type writeRecord struct {
	command
	modifying
	SFI    byte
	Record byte
	Data   []byte
}

// Decode returns nothing: these commands answer with a bare status word.
func (c *writeRecord) Decode(*iso7816.ResponseAPDU) (struct{}, error) {
	return struct{}{}, nil
}

func newWriteRecord(rev calypso.CardRevision, name string, ins iso7816.Instruction, sfi, record byte, p2Mode byte, data []byte) (*writeRecord, error) {
	if err := checkSFI(name, sfi); err != nil {
		return nil, err
	}
	if err := checkData(name, data); err != nil {
		return nil, err
	}
	return &writeRecord{
		command: newCommand(rev, name, ins, record, sfi*8+p2Mode, data, 0, updateStatuses),
		SFI:     sfi,
		Record:  record,
		Data:    append([]byte(nil), data...),
	}, nil
}

// UpdateRecord replaces the content of a record.
type UpdateRecord struct{ *writeRecord }

// NewUpdateRecord builds Update Record.
func NewUpdateRecord(rev calypso.CardRevision, sfi, record byte, data []byte) (*UpdateRecord, error) {
	if err := checkRecord("Update Record", record); err != nil {
		return nil, err
	}
	w, err := newWriteRecord(rev, "Update Record", iso7816.INS_UPDATE_RECORD, sfi, record, 0x04, data)
	if err != nil {
		return nil, err
	}
	return &UpdateRecord{w}, nil
}

// WriteRecord ORs data into a record.
type WriteRecord struct{ *writeRecord }

// NewWriteRecord builds Write Record.
func NewWriteRecord(rev calypso.CardRevision, sfi, record byte, data []byte) (*WriteRecord, error) {
	if err := checkRecord("Write Record", record); err != nil {
		return nil, err
	}
	w, err := newWriteRecord(rev, "Write Record", iso7816.INS_WRITE_RECORD, sfi, record, 0x04, data)
	if err != nil {
		return nil, err
	}
	return &WriteRecord{w}, nil
}

// AppendRecord shifts a cyclic file and writes data as its record 1.
type AppendRecord struct{ *writeRecord }

// NewAppendRecord builds Append Record.
func NewAppendRecord(rev calypso.CardRevision, sfi byte, data []byte) (*AppendRecord, error) {
	w, err := newWriteRecord(rev, "Append Record", iso7816.INS_APPEND_RECORD, sfi, 0x00, 0x00, data)
	if err != nil {
		return nil, err
	}
	return &AppendRecord{w}, nil
}
