// Package protocol defines the messages exchanged between the kiln CLI and
// the kiln daemon.
//
// Every message is a JSON envelope carrying a command name and a
// command-specific payload, written as a single line. The client sends one
// request envelope per connection and the daemon answers with either
// [CmdOK] and a result payload or [CmdError] and an [ErrorResult].
package protocol
