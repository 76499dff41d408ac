package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []*ToolCallRequest
	result types.InvocationResult
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req *ToolCallRequest) types.InvocationResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	if d.result.Status == types.StatusSuccess && d.result.Value == nil {
		return types.Success("ok")
	}
	return d.result
}

func (d *recordingDispatcher) last() *ToolCallRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return nil
	}
	return d.calls[len(d.calls)-1]
}

func decodeSchema(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

const shapeSchema = `{
	"type": "object",
	"properties": {
		"x":      {"type": "integer", "description": "left edge"},
		"width":  {"type": "number"},
		"label":  {"anyOf": [{"type": "null"}, {"type": "string"}], "description": "shape text"},
		"filled": {"anyOf": [{"type": "boolean"}, {"type": "null"}]},
		"style":  {"description": "mxgraph style"},
		"tags":   {"type": "array", "items": {"type": "string"}},
		"meta":   {"type": "object"}
	},
	"required": ["x"]
}`

func TestSynthesizeResolvesParameterTypes(t *testing.T) {
	s := NewSynthesizer(&recordingDispatcher{})
	c := s.Synthesize(types.ToolDescriptor{
		Name:        "drawio_add-rectangle",
		Description: "Add a rectangle",
		InputSchema: decodeSchema(t, shapeSchema),
	})

	byName := map[string]Parameter{}
	for _, p := range c.Parameters() {
		byName[p.Name] = p
	}

	cases := map[string]ParamType{
		"x":      ParamInteger,
		"width":  ParamFloat,
		"label":  ParamString,
		"filled": ParamBoolean,
		"style":  ParamString,
		"tags":   ParamString,
		"meta":   ParamString,
	}
	for name, want := range cases {
		p, ok := byName[name]
		require.True(t, ok, name)
		assert.Equal(t, want, p.Type, name)
	}

	assert.True(t, byName["x"].Required)
	assert.False(t, byName["label"].Required)
	assert.Equal(t, "x", c.Parameters()[0].Name)
}

func TestResolveSchemaTypeTable(t *testing.T) {
	cases := []struct {
		prop map[string]interface{}
		want string
	}{
		{nil, "string"},
		{map[string]interface{}{}, "string"},
		{map[string]interface{}{"type": "integer"}, "integer"},
		{map[string]interface{}{"type": []interface{}{"null", "number"}}, "number"},
		{map[string]interface{}{"anyOf": []interface{}{
			map[string]interface{}{"type": "null"},
			map[string]interface{}{"type": "boolean"},
		}}, "boolean"},
		{map[string]interface{}{"anyOf": []interface{}{
			map[string]interface{}{"type": "null"},
		}}, "string"},
		{map[string]interface{}{"type": "weird"}, "weird"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resolveSchemaType(tc.prop), "%v", tc.prop)
	}
	assert.Equal(t, ParamString, paramTypeOf("weird"))
}

func TestSynthesizeRendersDoc(t *testing.T) {
	c := NewSynthesizer(&recordingDispatcher{}).Synthesize(types.ToolDescriptor{
		Name:        "drawio_add-rectangle",
		Description: "Add a rectangle",
		InputSchema: decodeSchema(t, shapeSchema),
	})
	assert.Equal(t, "Add a rectangle\n\nArgs:\n    x: left edge\n    label: shape text\n    style: mxgraph style", c.Doc())

	bare := NewSynthesizer(&recordingDispatcher{}).Synthesize(types.ToolDescriptor{Name: "ping"})
	assert.Equal(t, "ping", bare.Doc())
	assert.Empty(t, bare.Parameters())
}

func TestSynthesisDoesNotInvoke(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynthesizer(d)
	desc := types.ToolDescriptor{Name: "t", InputSchema: decodeSchema(t, shapeSchema)}

	a := s.Synthesize(desc)
	b := s.Synthesize(desc)
	assert.Nil(t, d.last())
	assert.Equal(t, a.Parameters(), b.Parameters())
	assert.Equal(t, a.Doc(), b.Doc())
}

func TestInvokeForwardsOnlyRequiredWhenOptionalOmitted(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynthesizer(d, WithTimeouts(60*time.Second, 90*time.Second))
	c := s.Synthesize(types.ToolDescriptor{Name: "shape", InputSchema: decodeSchema(t, shapeSchema)})

	out, err := c.Invoke(context.Background(), map[string]interface{}{
		"x":     10,
		"label": nil,
		"width": Absent,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	req := d.last()
	require.NotNil(t, req)
	assert.Equal(t, map[string]interface{}{"x": int64(10)}, req.Arguments)
	assert.Equal(t, 60*time.Second, req.InnerTimeout)
	assert.Equal(t, 90*time.Second, req.OuterTimeout)
}

func TestInvokeMissingRequiredFailsFast(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "shape", InputSchema: decodeSchema(t, shapeSchema)})

	_, err := c.Invoke(context.Background(), map[string]interface{}{"width": 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Nil(t, d.last())

	out, err := c.InvokableRun(context.Background(), `{"width": 3}`)
	require.NoError(t, err)
	assert.Contains(t, out, "missing required argument 'x'")
	assert.Contains(t, out, string(types.KindValidation))
}

func TestInvokeKeepsFalsyValues(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "shape", InputSchema: decodeSchema(t, shapeSchema)})

	_, err := c.Invoke(context.Background(), map[string]interface{}{
		"x":      0,
		"width":  0.0,
		"filled": false,
		"label":  "",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"x":      int64(0),
		"width":  float64(0),
		"filled": false,
		"label":  "",
	}, d.last().Arguments)
}

func TestInvokeCoercesAndPassesComposites(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "shape", InputSchema: decodeSchema(t, shapeSchema)})

	_, err := c.InvokableRun(context.Background(), `{"x": "42", "width": "1.5", "filled": "true", "style": 7,
		"tags": ["a", "b"], "meta": {"k": 1}, "unknown": "dropped"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"x":      int64(42),
		"width":  1.5,
		"filled": true,
		"style":  "7",
		"tags":   []interface{}{"a", "b"},
		"meta":   map[string]interface{}{"k": float64(1)},
	}, d.last().Arguments)

	_, err = c.Invoke(context.Background(), map[string]interface{}{"x": "not a number"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestInvokeWithoutDeclaredPropertiesPassesArgsThrough(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "free", InputSchema: map[string]interface{}{"type": "object"}})

	_, err := c.Invoke(context.Background(), map[string]interface{}{"a": 1, "b": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1}, d.last().Arguments)
}

func TestWindowsQuirkForcesTimeout(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynthesizer(d)
	s.goos = "windows"
	desc := types.ToolDescriptor{Name: "aws_diagram_generate_diagram", InputSchema: decodeSchema(t,
		`{"type":"object","properties":{"code":{"type":"string"},"timeout":{"type":"integer"}},"required":["code"]}`)}

	_, err := s.Synthesize(desc).Invoke(context.Background(), map[string]interface{}{"code": "x", "timeout": 90})
	require.NoError(t, err)
	assert.Equal(t, 0, d.last().Arguments["timeout"])

	s.goos = "linux"
	_, err = s.Synthesize(desc).Invoke(context.Background(), map[string]interface{}{"code": "x"})
	require.NoError(t, err)
	assert.NotContains(t, d.last().Arguments, "timeout")

	s.goos = "windows"
	_, err = s.Synthesize(types.ToolDescriptor{Name: "drawio_add-edge"}).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, d.last().Arguments, "timeout")
}

func TestInvokeRendersFailures(t *testing.T) {
	d := &recordingDispatcher{result: types.Failure(types.KindFailure, "boom")}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "t"})

	out, err := c.InvokableRun(context.Background(), "")
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "Tool 't' failed: boom", body["error"])

	out, err = c.InvokableRun(context.Background(), "not json")
	require.NoError(t, err)
	assert.Contains(t, out, "arguments are not a JSON object")
}

func TestInvokeEncodesNonStringSuccess(t *testing.T) {
	d := &recordingDispatcher{result: types.Success([]interface{}{"a", map[string]interface{}{"n": 1}})}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "t"})

	out, err := c.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["a", {"n": 1}]`, out)
}

func TestStrictSchemaValidation(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynthesizer(d, WithStrictSchema(true))
	c := s.Synthesize(types.ToolDescriptor{Name: "t", InputSchema: decodeSchema(t,
		`{"type":"object","properties":{"color":{"type":"string","enum":["red","blue"]}},"required":["color"]}`)})

	_, err := c.Invoke(context.Background(), map[string]interface{}{"color": "green"})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Nil(t, d.last())

	_, err = c.Invoke(context.Background(), map[string]interface{}{"color": "red"})
	assert.NoError(t, err)
}

func TestCallableInfo(t *testing.T) {
	c := NewSynthesizer(&recordingDispatcher{}).Synthesize(types.ToolDescriptor{
		Name:        "drawio_add-rectangle",
		Description: "Add a rectangle",
		InputSchema: decodeSchema(t, shapeSchema),
	})
	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drawio_add-rectangle", info.Name)
	assert.Contains(t, info.Desc, "Args:")

	js, err := info.ParamsOneOf.ToJSONSchema()
	require.NoError(t, err)
	raw, err := json.Marshal(js)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))

	props := out["properties"].(map[string]interface{})
	assert.Equal(t, string(schema.Integer), props["x"].(map[string]interface{})["type"])
	assert.Equal(t, string(schema.Array), props["tags"].(map[string]interface{})["type"])
	assert.Equal(t, []interface{}{"x"}, out["required"])
}

func TestSynthesizeAllKeepsCatalogOrder(t *testing.T) {
	catalog := types.ToolCatalog{{Name: "b"}, {Name: "a"}, {Name: "c"}}
	callables := NewSynthesizer(&recordingDispatcher{}).SynthesizeAll(catalog)
	require.Len(t, callables, 3)
	assert.Equal(t, "b", callables[0].Name())
	assert.Equal(t, "a", callables[1].Name())
	assert.Equal(t, "c", callables[2].Name())
}

func TestInvokeIntegerStringsAreDecimal(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewSynthesizer(d).Synthesize(types.ToolDescriptor{Name: "shape", InputSchema: decodeSchema(t, shapeSchema)})

	cases := map[string]int64{"010": 10, "-007": -7, "000": 0, " 42 ": 42, "7": 7}
	for in, want := range cases {
		_, err := c.Invoke(context.Background(), map[string]interface{}{"x": in})
		require.NoError(t, err, in)
		assert.Equal(t, want, d.last().Arguments["x"], in)
	}

	_, err := c.Invoke(context.Background(), map[string]interface{}{"x": "0.5x"})
	assert.ErrorIs(t, err, types.ErrValidation)
}
