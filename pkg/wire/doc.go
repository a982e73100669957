/*
Package wire implements Burrow's TCP frame layer.

One frame on the wire is:

	[ start tag : 4 bytes ][ mode : 1 ][ length : 4, LE ][ payload ][ end tag : 4 bytes ]

The tag bytes are per-endpoint constants. The Reader is a blocking state
machine (start, mode, length, payload, end) that resynchronizes on any
deviation by restarting the start-tag search, logging once per resync, and
never closing the connection for a corrupt frame. Read errors end the loop
and surface through OnDisconnect.

Pipeline carries the negotiated payload transforms: compress then encrypt
outbound, decrypt then decompress inbound. Sessions own a Pipeline and run
payloads through it on both sides of the framing.
*/
package wire
