/*
Package container implements Burrow's typed value containers: recursive,
self-describing data trees with a textual, binary-safe wire form.

A Container carries a small addressing header (source, target, message
type, version) and an ordered list of typed Values. Values are scalars,
byte blobs, strings, or nested containers; every node knows its parent and,
for containers, how many direct children it declares on the wire.

# Wire form

	@header={[5,data_container];[6,1.0.0.0];};@data={[flag,1,true];};

The header block holds numbered key/value pairs; the data block holds one
[name,type,value] triple per node, depth-first. Type tags are a fixed
single-character alphabet. Strings carry escape sequences for CR, LF,
space and tab; bytes travel as base64; numbers as decimal text.

Containers deserialized with headerOnly=true defer body parsing until a
value is first needed, which keeps brokers that only route on the header
from paying the parse cost.

XML and JSON projections are provided for inspection and logging. They are
one-way; only Serialize output round-trips through Deserialize.

Containers are not safe for concurrent mutation; callers must not mutate a
container concurrently with serialization.
*/
package container
