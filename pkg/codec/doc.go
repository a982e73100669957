/*
Package codec provides the byte-level transforms used on Burrow's wire:
base64 text encoding, block-streamed LZ4 compression, and AES-CBC
encryption.

Compression splits the input into fixed-size blocks and emits each block as
a 4-byte little-endian size followed by the block body, so a stream can be
decompressed incrementally with a bounded buffer. Encryption is AES-CBC
with PKCS#7 padding; key and IV are generated per session and exchanged
during the connection handshake in base64 form.

All transforms treat empty input as a pass-through, matching the behavior
expected by the session pipeline when a stage is disabled mid-negotiation.
*/
package codec
