package po

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
)

// FILE CONTROL INFORMATION (FCI) of a Calypso application:
//
//	6F FCI Template
//	   84 DF Name
//	   A5 Proprietary Information
//	      BF0C Issuer Discretionary Data
//	         C7 Application Serial Number (8 bytes)
//	         53 Discretionary Data: startup information (7 bytes or more)
//
// The tags are expected in this order and are walked with a tlv.Cursor.

var (
	tagFCI           = tlv.MustTag(0x0F, tlv.ClassApplication, true, 1)
	tagDFName        = tlv.MustTag(0x04, tlv.ClassContext, false, 1)
	tagProprietary   = tlv.MustTag(0x05, tlv.ClassContext, true, 1)
	tagDiscretionary = tlv.MustTag(0x0C, tlv.ClassContext, true, 2)
	tagSerialNumber  = tlv.MustTag(0x07, tlv.ClassPrivate, false, 1)
	tagStartupInfo   = tlv.MustTag(0x13, tlv.ClassApplication, false, 1)
)

// Application type flags (startup information byte 3).
const (
	appTypePIN                    = 0x01
	appTypeStoredValue            = 0x02
	appTypeRatificationOnDeselect = 0x04
	appTypeExtendedMode           = 0x08
)

// StartupInfo is the content of tag '53'.
type StartupInfo struct {
	BufferSizeIndicator byte
	Platform            byte
	ApplicationType     byte
	ApplicationSubtype  byte
	SoftwareIssuer      byte
	SoftwareVersion     byte
	SoftwareRevision    byte
}

// CardInfo is what the terminal learns about a card when selecting it.
type CardInfo struct {
	DFName        []byte
	SerialNumber  []byte
	Startup       StartupInfo
	Revision      calypso.CardRevision
	DFInvalidated bool

	raw []byte
}

// ParseFCI extracts the card identity from a Select Application or Get Data response.
func ParseFCI(data []byte) (*CardInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data cannot be parsed")
	}

	c := tlv.NewCursor(data)
	info := &CardInfo{raw: append([]byte(nil), data...)}

	steps := []struct {
		tag  tlv.Tag
		dest *[]byte
	}{
		{tag: tagFCI},
		{tag: tagDFName, dest: &info.DFName},
		{tag: tagProprietary},
		{tag: tagDiscretionary},
		{tag: tagSerialNumber, dest: &info.SerialNumber},
	}

	for _, step := range steps {
		if err := expect(c, step.tag, len(data)); err != nil {
			return nil, err
		}
		if step.dest == nil {
			continue
		}
		v, err := c.Value()
		if err != nil {
			return nil, fmt.Errorf("FCI: %w", err)
		}
		*step.dest = v
	}

	if err := expect(c, tagStartupInfo, len(data)); err != nil {
		return nil, err
	}
	startup, err := c.Value()
	if err != nil {
		return nil, fmt.Errorf("FCI: %w", err)
	}
	if len(startup) < 7 {
		return nil, fmt.Errorf("FCI: startup information of %d bytes, want at least 7", len(startup))
	}

	info.Startup = StartupInfo{
		BufferSizeIndicator: startup[0],
		Platform:            startup[1],
		ApplicationType:     startup[2],
		ApplicationSubtype:  startup[3],
		SoftwareIssuer:      startup[4],
		SoftwareVersion:     startup[5],
		SoftwareRevision:    startup[6],
	}
	info.Revision = calypso.RevisionFromApplicationType(startup[2])

	return info, nil
}

// expect parses tag at the cursor position.
func expect(c *tlv.Cursor, tag tlv.Tag, size int) error {
	if c.Position() >= size {
		return fmt.Errorf("FCI: tag %s not found, end of data reached", tag)
	}
	found, err := c.Parse(tag, c.Position())
	if err != nil {
		return fmt.Errorf("FCI: %w", err)
	}
	if !found {
		return fmt.Errorf("FCI: tag %s not found at offset %d", tag, c.Position())
	}
	return nil
}

// BufferCapacity returns the size of the session modification buffer: bytes for
// Revision 3 cards, modifying commands for Revision 2.4.
func (c *CardInfo) BufferCapacity() int {
	return calypso.BufferCapacity(c.Revision, c.Startup.BufferSizeIndicator)
}

// SupportsExtendedMode reports whether the card accepts 8-byte session signatures.
func (c *CardInfo) SupportsExtendedMode() bool {
	return c.Revision == calypso.Rev3_2 && c.Startup.ApplicationType&appTypeExtendedMode != 0
}

// SupportsPIN reports the PIN feature flag of the application type.
func (c *CardInfo) SupportsPIN() bool {
	return c.Startup.ApplicationType&appTypePIN != 0
}

// SupportsStoredValue reports the Stored Value feature flag of the application type.
func (c *CardInfo) SupportsStoredValue() bool {
	return c.Startup.ApplicationType&appTypeStoredValue != 0
}

// RatifiesOnDeselect reports whether the card ratifies a session when deselected.
func (c *CardInfo) RatifiesOnDeselect() bool {
	return c.Startup.ApplicationType&appTypeRatificationOnDeselect != 0
}

// fciView maps the FCI onto a struct for reporting.
type fciView struct {
	DFName      []byte `tlv:"84" fmt:"ascii"`
	Proprietary struct {
		Discretionary struct {
			SerialNumber []byte       `tlv:"C7"`
			StartupInfo  []byte       `tlv:"53"`
			Unknown      []bertlv.TLV `tlv:",unknown"`
		} `tlv:"BF0C"`
		Unknown []bertlv.TLV `tlv:",unknown"`
	} `tlv:"A5"`
	Unknown []bertlv.TLV `tlv:",unknown"`
}

// Describe generates a detailed report of the card identity.
func (c *CardInfo) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== CALYPSO FCI ===\n")
	sb.WriteString(fmt.Sprintf("[1] Revision:  %s\n", c.Revision))
	sb.WriteString(fmt.Sprintf("    + Serial:  %X\n", c.SerialNumber))
	sb.WriteString(fmt.Sprintf("    + Buffer:  indicator %02X -> %d\n", c.Startup.BufferSizeIndicator, c.BufferCapacity()))
	sb.WriteString(fmt.Sprintf("    + AppType: %02X (PIN: %t, SV: %t, Extended: %t)\n",
		c.Startup.ApplicationType, c.SupportsPIN(), c.SupportsStoredValue(), c.SupportsExtendedMode()))
	if c.DFInvalidated {
		sb.WriteString("    + DF invalidated\n")
	}

	sb.WriteString("[2] TLV content:")
	var fci struct {
		Template fciView `tlv:"6F"`
	}
	if err := tlv.Unmarshal(c.raw, &fci); err != nil {
		sb.WriteString(fmt.Sprintf(" <unreadable: %v>", err))
		return sb.String()
	}

	var fields strings.Builder
	view := &fci.Template
	tlv.WriteStructFields(&fields, "FCI", view)
	tlv.WriteStructFields(&fields, "FCI.A5", &view.Proprietary)
	tlv.WriteStructFields(&fields, "FCI.A5.BF0C", &view.Proprietary.Discretionary)
	sb.WriteString("\n")
	sb.WriteString(fields.String())
	return sb.String()
}

var fciStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_WARN_FILE_DEACTIVATED:  {Successful: true, Description: "Successful execution, FCI request and DF is invalidated."},
	iso7816.SW_ERR_REF_DATA_NOT_FOUND: {Description: "Data object not found (optional mode not available)."},
	iso7816.SW_ERR_INS_INVALID:        {Description: "Instruction unknown."},
	iso7816.SW_ERR_CLA_NOT_SUPPORTED:  {Description: "Class not supported."},
})

var selectStatuses = iso7816.NewStatusTable(fciStatuses, iso7816.StatusTable{
	iso7816.SW_ERR_FILE_NOT_FOUND: {Description: "Application not found."},
})

// fciCodec decodes the FCI returned by Select Application and Get Data.
type fciCodec struct {
	command
}

func (c *fciCodec) Decode(resp *iso7816.ResponseAPDU) (*CardInfo, error) {
	if !c.statuses.IsSuccessful(resp.Status) {
		return nil, nil
	}
	info, err := ParseFCI(resp.Data)
	if err != nil {
		return nil, calypso.NewEncodingError(c.apdu.Name, "%v", err)
	}
	info.DFInvalidated = resp.Status == iso7816.SW_WARN_FILE_DEACTIVATED
	return info, nil
}

// NewGetDataFCI builds Get Data for the FCI template (tag '6F').
func NewGetDataFCI(rev calypso.CardRevision) calypso.Codec[*CardInfo] {
	return &fciCodec{newCommand(rev, "Get Data (FCI)", iso7816.INS_GET_DATA, 0x00, 0x6F, nil, iso7816.MaxShortLe, fciStatuses)}
}

// NewSelectApplication builds the ISO Select of a Calypso application by AID.
func NewSelectApplication(aid []byte) (calypso.Codec[*CardInfo], error) {
	if len(aid) < 5 || len(aid) > 16 {
		return nil, calypso.NewEncodingError("Select Application", "AID length %d out of range [5,16]", len(aid))
	}
	return &fciCodec{command{
		apdu:     iso7816.SelectByAID(iso7816.ClassISO, aid),
		statuses: selectStatuses,
	}}, nil
}
