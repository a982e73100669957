/*
Package client implements Burrow's messaging client: one socket, a frame
reader on its own goroutine, a job pool for handler work, and the client
side of the connection handshake.

Start dials the server and submits a request_connection with the client's
identifier, desired line type, pipeline flags, and connection key. The
server's confirm assigns the sub-identifier and the negotiated compression
and encryption settings; a rejection or a kill code (session limit) tears
the client down and fires the connection notification with
connected=false.

After the handshake the client exchanges packet containers (Send, Echo),
file transfers (SendFiles, RequestFiles), and addressed binary payloads
(SendBinary) with the server.
*/
package client
