// Package normalize 把 peer 返回的任意嵌套结构转换成可直接 JSON 编码的树：
// nil/string/bool/数字、[]interface{}、map[string]interface{}。
package normalize

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mark3labs/mcp-go/mcp"
)

// MaxDepth 递归深度上限，超过后以 DepthExceeded 占位，防止畸形或循环结构无限递归
const MaxDepth = 32

// DepthExceeded 深度超限时的占位字符串
const DepthExceeded = "<max depth exceeded>"

// Kind 已知的 peer 响应形态
type Kind int

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
	KindContentEnvelope
	KindText
	KindStructured
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindContentEnvelope:
		return "content"
	case KindText:
		return "text"
	case KindStructured:
		return "structured"
	default:
		return "opaque"
	}
}

// Classify 判断值属于哪一种形态
func Classify(v interface{}) Kind {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, []byte:
		return KindScalar
	case mcp.CallToolResult, *mcp.CallToolResult:
		return KindContentEnvelope
	case mcp.TextContent, *mcp.TextContent:
		return KindText
	case []interface{}:
		return KindSequence
	case map[string]interface{}:
		return KindMapping
	case error, fmt.Stringer:
		return KindOpaque
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return KindScalar
		}
		if rv.Elem().Kind() == reflect.Struct {
			return KindStructured
		}
		return KindOpaque
	case reflect.Slice, reflect.Array:
		return KindSequence
	case reflect.Map:
		return KindMapping
	case reflect.Struct:
		return KindStructured
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindScalar
	default:
		return KindOpaque
	}
}

// Normalize 递归转换，已经规整过的值再次转换结果不变
func Normalize(v interface{}) interface{} {
	return normalize(v, 0)
}

func normalize(v interface{}, depth int) interface{} {
	if depth > MaxDepth {
		return DepthExceeded
	}

	switch Classify(v) {
	case KindScalar:
		return scalar(v)
	case KindSequence:
		return sequence(v, depth)
	case KindMapping:
		return mapping(v, depth)
	case KindContentEnvelope:
		return normalize(contentOf(v), depth+1)
	case KindText:
		return textOf(v)
	case KindStructured:
		return structured(v, depth)
	default:
		return opaque(v, depth)
	}
}

func scalar(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return nil
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return fmt.Sprint(v)
}

func sequence(v interface{}, depth int) interface{} {
	if items, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = normalize(item, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return []interface{}{}
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = normalize(rv.Index(i).Interface(), depth+1)
	}
	return out
}

func mapping(v interface{}, depth int) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, item := range m {
			out[k] = normalize(item, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface(), depth+1)
	}
	return out
}

func contentOf(v interface{}) interface{} {
	switch x := v.(type) {
	case *mcp.CallToolResult:
		return x.Content
	case mcp.CallToolResult:
		return x.Content
	}
	return nil
}

func textOf(v interface{}) interface{} {
	switch x := v.(type) {
	case *mcp.TextContent:
		return x.Text
	case mcp.TextContent:
		return x.Text
	}
	return nil
}

// structured 按 JSON 可见字段展开
func structured(v interface{}, depth int) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var attrs interface{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return string(raw)
	}
	return normalize(attrs, depth+1)
}

func opaque(v interface{}, depth int) interface{} {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return normalize(rv.Elem().Interface(), depth+1)
	}
	return fmt.Sprintf("%v", v)
}
