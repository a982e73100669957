/*
Package server implements Burrow's messaging server: a TCP acceptor, a
registry of live sessions, and a priority job pool their handlers run on.

Each accepted socket becomes a session configured with the server's
encryption and compression preferences, identifier filters, and allowed
line types. Confirmed sessions receive broadcasts through Send and
SendBinary, filtered per session by target and snipping lists and
optionally by line type. A sweep job posted after every accept removes
sessions that were rejected during the handshake or never attempted one.

Stop closes the acceptor, tears down every session, halts the pool, and
releases WaitStop for callers parked on shutdown.
*/
package server
