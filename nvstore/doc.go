// Package nvstore provides non-volatile stores for the position record.
//
// Every store implements io.ReaderAt and io.WriterAt, the interface the
// sdcard driver persists its cursors through:
//
//   - Memory: an in-memory EEPROM image, erased to 0xFF
//   - File: a regular file synced after every write
//   - modbusstore.Store: holding registers of a remote Modbus TCP device
package nvstore
