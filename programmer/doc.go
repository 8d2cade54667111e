// Package programmer flashes a parsed TI-TXT image into an MSP430 through its
// UART bootstrap loader.
//
// A run goes through fixed phases:
//
//   - Entry: the RST and TEST lines pulse the device into the BSL, the
//     channel opens at 9600 baud and a version query clears the line.
//   - BaudNegotiate: the link switches to the working baud rate.
//   - Authenticate: the password unlocks the BSL. A wrong password makes the
//     device erase its code memory; the password is then sent once more.
//   - Write and Verify, per segment in image order: the segment is written and
//     the device CRC over the same range must equal the host CRC.
//   - Exit: RST pulses low to restart the application and the channel closes.
//
// Exit always runs once Entry has been attempted, whatever failed before it.
// Only one run may use a target at a time; a concurrent run on a target of the
// same name fails with ErrTargetBusy.
package programmer
