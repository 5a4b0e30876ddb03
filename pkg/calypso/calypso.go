/*
Package calypso holds the model shared by the Calypso card (PO) and SAM command
sets: product revisions, session access levels, the Command/Codec contract every
command implements, and the error taxonomy of the secure session engine.

# Commands

Every command is a value implementing Command: it knows its APDU and the status
table used to judge the card's answer. Codecs add a typed Decode. Exchange sends
a codec outside of any secure session:

	cmd, err := po.NewReadRecords(calypso.Rev3_1, 0x08, 1, po.ReadOneRecord)
	if err != nil {
	    return err // *EncodingError
	}
	records, err := calypso.Exchange(client, cmd)

Decoders never fail on an unsuccessful status: they return empty values and the
status is reported by Exchange through the command's status table.

# Revisions

The card revision is derived once, from the application type byte found in the
FCI, and selects the class byte of every card command ('94' for Revision 2.4,
'00' for Revision 3).
*/
package calypso
