// Package sdsim simulates an SD card at the SPI byte level.
//
// A Card implements the same four operations as a hardware transport
// (Select, Release, Exchange and SetClockRate), so the sdcard driver runs
// against it unchanged. It answers the SPI-mode command set the driver
// uses, produces real CRC7 and CRC16 values and checks the ones it
// receives.
//
// # Card Kinds
//
//   - KindSDSCv1: version 1, byte addressed, CSD 1.0
//   - KindSDSCv2: version 2, byte addressed, CSD 1.0
//   - KindSDHC: version 2, block addressed, CSD 2.0
//
// # Failure Injection
//
// Tests steer the card into the failure paths of the driver:
//
//	card.Fail(protocol.CmdWriteBlock, protocol.R1AddressError)
//	card.RejectWrites(0x0B)
//	card.CorruptReads(true)
//	card.DropStartToken(true)
//
// # Media
//
// Contents live in sparse memory unless WithMedia supplies storage, such
// as an *os.File holding a card image.
package sdsim
