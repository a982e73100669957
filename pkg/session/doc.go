/*
Package session implements the per-connection state machine of Burrow's
framed TCP protocol.

A session begins in the waiting state. The peer opens with a
request_connection packet carrying its claimed identifiers, desired line
type, compression/encryption flags, and the shared connection key. A key
or type mismatch earns a confirm_connection with accepted=false and moves
the session to expired, where the sweep the server runs one second after
each accept removes it. A
match earns accepted=true with server-assigned identifiers, the negotiated
pipeline settings, and, when encrypting, a fresh base64 key and IV. A
server past its session limit still accepts but sets the kill code, which
tells the client to hang up.

	waiting ──request_connection──▶ confirmed ──auto-echo──▶ confirmed
	   │                                │
	   └─key mismatch─▶ expired         └─read error─▶ disconnected

Handshake packets travel in plaintext; every frame after the confirm runs
through the compress/encrypt pipeline both ways. Received packets are
decoded and dispatched on the job pool so the socket reader never blocks
on user code. File-mode payloads are written to their target path; binary
payloads hand their addressing segments plus raw bytes to the binary
notification.
*/
package session
