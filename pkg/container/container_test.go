package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDataContainer(t *testing.T) {
	c := New()
	c.Add(NewBool("flag", true))

	want := "@header={[5,data_container];[6,1.0.0.0];};@data={[flag,1,true];};"
	assert.Equal(t, want, c.Serialize())
}

func TestDeserializeDataContainer(t *testing.T) {
	wire := "@header={[5,data_container];[6,1.0.0.0];};@data={[flag,1,true];};"
	c, err := Parse(wire)
	require.NoError(t, err)

	require.Len(t, c.Values(), 1)
	v := c.Value("flag")
	require.NotNil(t, v)
	assert.Equal(t, BoolValue, v.Type())
	assert.True(t, v.ToBool())
}

func TestHeaderAddressFieldsSuppressedForDataContainer(t *testing.T) {
	c := New()
	c.SetSource("svc-a", "sub-1")
	c.SetTarget("svc-b", "sub-2")

	assert.NotContains(t, c.Serialize(), "svc-a")

	c.SetMessageType("custom_message")
	wire := c.Serialize()
	assert.Contains(t, wire, "[3,svc-a];")
	assert.Contains(t, wire, "[1,svc-b];")
	assert.Contains(t, wire, "[5,custom_message];")
}

func TestHeaderRoundTrip(t *testing.T) {
	c := New()
	c.SetMessageType("request_connection")
	c.SetSource("client-1", "sub-9")
	c.SetTarget("server-1", "")
	c.Add(NewString("connection_key", "secret"))

	parsed, err := Parse(c.Serialize())
	require.NoError(t, err)
	assert.Equal(t, "client-1", parsed.SourceID())
	assert.Equal(t, "sub-9", parsed.SourceSubID())
	assert.Equal(t, "server-1", parsed.TargetID())
	assert.Equal(t, "request_connection", parsed.MessageType())
	assert.Equal(t, "secret", parsed.Value("connection_key").ToString(true))
}

func TestRoundTripAllTypes(t *testing.T) {
	c := New()
	c.Add(NewBool("b", true))
	c.Add(NewShort("s", -7))
	c.Add(NewUShort("us", 7))
	c.Add(NewInt("i", -70000))
	c.Add(NewUInt("ui", 70000))
	c.Add(NewLong("l", -1234567))
	c.Add(NewULong("ul", 1234567))
	c.Add(NewLLong("ll", -1<<50))
	c.Add(NewULLong("ull", 1<<50))
	c.Add(NewFloat("f", 1.5))
	c.Add(NewDouble("d", -2.25))
	c.Add(NewBytes("raw", []byte{1, 2, 3, 250}))
	c.Add(NewString("str", "hello world\nwith lines\tand tabs"))
	c.Add(NewContainerValue("nested",
		NewInt("x", 1),
		NewContainerValue("deeper", NewString("y", "z value")),
	))

	parsed, err := Parse(c.Serialize())
	require.NoError(t, err)
	assert.True(t, c.Equal(parsed), "round-tripped container differs:\n%s\n%s", c.Serialize(), parsed.Serialize())

	// Spot checks on the decoded leaves.
	assert.Equal(t, int64(-1<<50), parsed.Value("ll").ToLLong())
	assert.Equal(t, []byte{1, 2, 3, 250}, parsed.Value("raw").ToBytes())
	assert.Equal(t, "hello world\nwith lines\tand tabs", parsed.Value("str").ToString(true))

	nested := parsed.Value("nested")
	require.NotNil(t, nested)
	require.Equal(t, 2, nested.ChildCount())
	deeper := nested.ValueByName("deeper")
	require.NotNil(t, deeper)
	assert.Equal(t, "z value", deeper.ValueByName("y").ToString(true))
}

func TestRenestDeclaredChildren(t *testing.T) {
	wire := "@header={[5,data_container];[6,1.0.0.0];};@data={[outer,e,2];[a,4,1];[b,4,2];};"
	c, err := Parse(wire)
	require.NoError(t, err)

	require.Len(t, c.Values(), 1)
	outer := c.Value("outer")
	require.NotNil(t, outer)
	assert.True(t, outer.IsContainer())
	require.Equal(t, 2, outer.ChildCount())
	assert.Equal(t, int32(1), outer.ValueByName("a").ToInt())
	assert.Equal(t, int32(2), outer.ValueByName("b").ToInt())
}

func TestRenestZeroCountContainerStaysLeaf(t *testing.T) {
	wire := "@header={[5,data_container];[6,1.0.0.0];};@data={[empty,e,0];[after,4,9];};"
	c, err := Parse(wire)
	require.NoError(t, err)

	require.Len(t, c.Values(), 2)
	assert.Equal(t, 0, c.Value("empty").ChildCount())
	assert.Equal(t, int32(9), c.Value("after").ToInt())
}

func TestRenestNestedContainers(t *testing.T) {
	wire := "@data={[outer,e,2];[inner,e,1];[x,4,5];[tail,4,6];};"
	c, err := Parse("@header={[5,data_container];[6,1.0.0.0];};" + wire)
	require.NoError(t, err)

	outer := c.Value("outer")
	require.NotNil(t, outer)
	require.Equal(t, 2, outer.ChildCount())
	inner := outer.ValueByName("inner")
	require.NotNil(t, inner)
	require.Equal(t, 1, inner.ChildCount())
	assert.Equal(t, int32(5), inner.ValueByName("x").ToInt())
	assert.Equal(t, int32(6), outer.ValueByName("tail").ToInt())
}

func TestDeserializeStripsNewlines(t *testing.T) {
	wire := "@header={[5,data_container];\r\n[6,1.0.0.0];};\n@data={[flag,1,true];};\r"
	c, err := Parse(wire)
	require.NoError(t, err)
	assert.True(t, c.Value("flag").ToBool())
}

func TestDeserializeEmptyFails(t *testing.T) {
	c := New()
	assert.Error(t, c.Deserialize("", false))
	assert.Error(t, c.Deserialize("garbage with no blocks", false))
}

func TestHeaderOnlyDefersBodyParsing(t *testing.T) {
	src := New()
	src.SetMessageType("custom_type")
	src.Add(NewInt("n", 42))
	wire := src.Serialize()

	c := New()
	require.NoError(t, c.Deserialize(wire, true))
	assert.Equal(t, "custom_type", c.MessageType())

	// Serializing before the body is realized re-emits the cached text.
	assert.Contains(t, c.Serialize(), "[n,4,42];")

	// First value access realizes the parsed form.
	require.NotNil(t, c.Value("n"))
	assert.Equal(t, int32(42), c.Value("n").ToInt())
}

func TestSwapHeader(t *testing.T) {
	c := New()
	c.SetMessageType("echo_test")
	c.SetSource("a", "a1")
	c.SetTarget("b", "b2")

	c.SwapHeader()
	assert.Equal(t, "b", c.SourceID())
	assert.Equal(t, "b2", c.SourceSubID())
	assert.Equal(t, "a", c.TargetID())
	assert.Equal(t, "a1", c.TargetSubID())
}

func TestCopy(t *testing.T) {
	c := New()
	c.SetMessageType("custom_type")
	c.Add(NewInt("n", 7))

	full := c.Copy(true)
	assert.True(t, c.Equal(full))

	headerOnly := c.Copy(false)
	assert.Equal(t, "custom_type", headerOnly.MessageType())
	assert.Empty(t, headerOnly.Values())
}

func TestProjectionsSmoke(t *testing.T) {
	c := New()
	c.Add(NewString("greeting", "hello world"))
	c.Add(NewContainerValue("nested", NewInt("n", 1)))

	xml := c.ToXML()
	assert.True(t, strings.HasPrefix(xml, "<container>"))
	assert.Contains(t, xml, "<greeting>hello world</greeting>")
	assert.Contains(t, xml, "<nested><n>1</n></nested>")

	json := c.ToJSON()
	assert.Contains(t, json, `"message_type":"data_container"`)
	assert.Contains(t, json, `{"greeting":"hello world"}`)
	assert.Contains(t, json, `{"nested":[{"n":"1"}]}`)
}

func TestValueListReturnsAllMatches(t *testing.T) {
	c := New()
	c.Add(NewContainerValue("file", NewString("source", "a b")))
	c.Add(NewContainerValue("file", NewString("source", "c d")))

	files := c.ValueList("file")
	require.Len(t, files, 2)
	assert.Equal(t, "a b", files[0].ValueByName("source").ToString(true))
	assert.Equal(t, "c d", files[1].ValueByName("source").ToString(true))
}
