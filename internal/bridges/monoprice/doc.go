// Package monoprice implements the protocol bridge to a Monoprice-style
// multi-zone amplifier reached through an iTach Flex IP→RS232 bridge.
//
// The amplifier speaks a line-oriented ASCII protocol over RS232, which the
// iTach exposes as a raw TCP stream:
//
//	set command:    <ZZCCVV\r   (ZZ = 10+zone, CC = attribute code, VV = value)
//	query command:  ?ZZ\r
//	status reply:   >ZZPAPRMUDTVOTRBSBLCHLS\r  (two digits per field)
//	set echo:       >ZZCCVV\r
//
// The protocol has no transaction ids and no multiplexing: interleaving the
// bytes of two commands corrupts the stream unrecoverably. The Client
// therefore serialises all outbound traffic through a strict FIFO queue and
// keeps exactly one command in flight, correlating responses by the echoed
// zone and attribute.
//
// # Structure
//
//   - codec.go / attributes.go: pure, table-driven encode/decode. No I/O,
//     safe to call from any goroutine. New amplifier models are added by
//     extending the attribute table, not by touching the Client.
//   - client.go: the connection manager. Owns the single TCP connection,
//     reconnects forever with capped exponential backoff, runs the read
//     loop that feeds confirmed frames into the zone cache.
//   - poller.go: background zone polling to pick up front-panel and IR
//     remote changes that the device does not push.
//
// # Connection States
//
// Disconnected → Connecting → Connected ⇄ Degraded, with no terminal
// failure state: the amplifier and the iTach can be power-cycled
// independently of this process, so the Client retries until closed.
package monoprice
