package sdcard

import "io"

// Transport is the byte-level SPI link to the card.
//
// The driver owns chip select: it calls Select before a command or a block
// byte and Release after it. Implementations must not toggle chip select
// on their own.
type Transport interface {
	// Select drives chip select low.
	Select() error

	// Release drives chip select high.
	Release() error

	// Exchange clocks one byte out and returns the byte clocked in.
	Exchange(out byte) (byte, error)

	// SetClockRate changes the bus clock.
	SetClockRate(hz uint32) error
}

// Store is the small non-volatile memory holding the position record.
// Writes must be durable when WriteAt returns.
type Store interface {
	io.ReaderAt
	io.WriterAt
}
