// Package sdcard drives an SD or SDHC card over SPI as a circular byte log.
//
// # Overview
//
// The driver handles the complete card lifecycle:
//   - Negotiating with the card (version 1 and version 2, SDSC and SDHC)
//   - Streaming bytes through whole 512-byte blocks with CRC16 checks
//   - Keeping a read cursor and a write cursor that wrap at the end of the card
//   - Persisting both cursors in a small power-fail-safe record
//
// # Basic Usage
//
//	// User provides the SPI link and a small non-volatile store
//	bus, _ := periphspi.Open(periphspi.Config{Port: "/dev/spidev0.0", CSPin: "GPIO8"})
//	eeprom, _ := nvstore.OpenFile("/var/lib/sdlog/record.bin")
//
//	card := sdcard.New(bus, eeprom)
//	if err := card.Initialize(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Append to the log
//	fmt.Fprintf(card, "temperature=%d\n", 21)
//	card.Flush()
//
//	// Drain it
//	buf := make([]byte, card.Backlog()*512)
//	card.Read(buf)
//
// # Negotiation Steps
//
// Every step of Initialize is reported through an optional callback:
//
//	card := sdcard.New(bus, eeprom,
//	    sdcard.WithStepCallback(func(r sdcard.StepReport) {
//	        fmt.Printf("%-14s r1=%s %s\n", r.Step, r.R1, r.Version)
//	    }),
//	)
//
// When Initialize fails, LastStep tells how far it got.
//
// # Transfer Status
//
// Block transfers never panic and rarely return errors: a block the card
// refuses is recorded and the cursor stays put. Inspect LastTransfer after
// a page boundary:
//
//	if err := card.LastTransfer().Err(); err != nil {
//	    log.Printf("page %d: %v", card.LastTransfer().Page, err)
//	}
//
// Errors returned by the streaming calls are transport or store failures.
//
// # Position Record
//
// The record is 25 bytes: the card manufacturer ID and serial number,
// followed by two copies of each cursor, every copy guarded by a CRC7.
// A record written for another card is reset to page 0.
//
// # Logging
//
// A *slog.Logger can be passed directly:
//
//	card := sdcard.New(bus, eeprom, sdcard.WithLogger(slog.Default()))
//
// # Thread Safety
//
// A Driver is not safe for concurrent use.
package sdcard
