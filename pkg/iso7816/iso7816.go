/*
Package iso7816 implements data structures and logic to interact with smart cards according to the ISO/IEC 7816 standard.

This package provides the fundamental building blocks for APDU (Application Protocol Data Unit) communication: Command and Response structures, Status Word (SW) analysis, per-command status tables, and a Client that drives a Transmitter.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Response data is still available (XX bytes). Handled by the Client.
  - 0x6CXX: Wrong length expectation (XX is the correct length). Handled by the Client.
  - Other: meaning depends on the command; see StatusTable.

# Errors

  - *TransportError (errors.Is ErrTransport): the exchange itself failed. Wraps ErrCardRemoved, ErrTimeout or ErrMalformedResponse when the Transmitter could classify it.
  - *StatusError: the card answered with a status its command table marks as a failure.
  - *UnknownStatusError (errors.Is ErrUnknownStatus): the status is absent from the table.

# Usage Example

	client := iso7816.NewClient(reader, iso7816.WithLogger(logger))

	trace, err := client.Send(iso7816.SelectByAID(iso7816.ClassISO, aid))
	if err != nil {
	    return err // transport failure
	}

	table := iso7816.NewStatusTable(iso7816.StatusTable{
	    iso7816.SW_WARN_FILE_DEACTIVATED: {Successful: true, Description: "DF invalidated."},
	})
	if err := table.Check("Select Application", trace.Response()); err != nil {
	    return err
	}
*/
package iso7816
