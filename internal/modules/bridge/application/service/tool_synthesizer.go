package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"

	"MCPBridge/internal/modules/bridge/infrastructure/mcp/types"
	"MCPBridge/pkg/zlog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cast"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ParamType 参数的基本类型
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamBoolean ParamType = "boolean"
)

// Parameter 从 inputSchema 推导出的参数描述
type Parameter struct {
	Name        string
	Type        ParamType
	SchemaType  string // schema 中解析出的原始类型，如 object / array
	Required    bool
	Description string
	Enum        []string
	ItemType    string
}

type absent struct{}

// Absent 可选参数未赋值的标记，与 0 / false / "" 区分
var Absent = absent{}

// Synthesizer 把 ToolDescriptor 合成为可调用对象，合成过程不会调用工具
type Synthesizer struct {
	dispatcher MCPDispatcher
	inner      time.Duration
	outer      time.Duration
	strict     bool
	goos       string
}

type SynthesizerOption func(*Synthesizer)

// WithTimeouts 设置 agent 调用的 inner / outer 时限
func WithTimeouts(inner, outer time.Duration) SynthesizerOption {
	return func(s *Synthesizer) {
		if inner > 0 {
			s.inner = inner
		}
		if outer > 0 {
			s.outer = outer
		}
	}
}

// WithStrictSchema 调用前按完整 inputSchema 校验参数
func WithStrictSchema(strict bool) SynthesizerOption {
	return func(s *Synthesizer) {
		s.strict = strict
	}
}

// NewSynthesizer 创建 Synthesizer
func NewSynthesizer(dispatcher MCPDispatcher, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		dispatcher: dispatcher,
		inner:      defaultInnerTimeout,
		outer:      defaultOuterTimeout,
		goos:       runtime.GOOS,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynthesizeAll 按目录顺序为每个工具生成一个 callable
func (s *Synthesizer) SynthesizeAll(catalog types.ToolCatalog) []*Callable {
	out := make([]*Callable, 0, len(catalog))
	for _, desc := range catalog {
		out = append(out, s.Synthesize(desc))
	}
	return out
}

// Synthesize 生成单个 callable
func (s *Synthesizer) Synthesize(desc types.ToolDescriptor) *Callable {
	props, _ := desc.InputSchema["properties"].(map[string]interface{})
	required := stringSet(desc.InputSchema["required"])

	c := &Callable{
		name:          desc.Name,
		description:   desc.Description,
		hasProperties: len(props) > 0,
		synth:         s,
	}
	for _, name := range propertyOrder(desc.InputSchema, props) {
		prop, _ := props[name].(map[string]interface{})
		schemaType := resolveSchemaType(prop)
		_, req := required[name]
		c.params = append(c.params, Parameter{
			Name:        name,
			Type:        paramTypeOf(schemaType),
			SchemaType:  schemaType,
			Required:    req,
			Description: cast.ToString(prop["description"]),
			Enum:        enumOf(prop),
			ItemType:    itemTypeOf(prop),
		})
	}
	c.doc = renderDoc(c.name, c.description, c.params)

	if s.strict && len(desc.InputSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(desc.InputSchema))
		if err != nil {
			zlog.Warn("MCP: input schema not compilable, strict validation disabled",
				zap.String("tool", desc.Name), zap.Error(err))
		} else {
			c.validator = compiled
		}
	}
	return c
}

// propertyOrder 必填参数按 required 中的顺序在前，其余按字典序
func propertyOrder(inputSchema map[string]interface{}, props map[string]interface{}) []string {
	names := make([]string, 0, len(props))
	seen := make(map[string]struct{}, len(props))
	if req, ok := inputSchema["required"].([]interface{}); ok {
		for _, r := range req {
			name := cast.ToString(r)
			if _, ok := props[name]; !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	rest := make([]string, 0, len(props))
	for name := range props {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// resolveSchemaType 显式 type；否则取 anyOf 中第一个非 null 分支；否则 string
func resolveSchemaType(prop map[string]interface{}) string {
	if prop == nil {
		return "string"
	}
	switch t := prop["type"].(type) {
	case string:
		if t != "" {
			return t
		}
	case []interface{}:
		for _, v := range t {
			if name := cast.ToString(v); name != "" && name != "null" {
				return name
			}
		}
	}
	if variants, ok := prop["anyOf"].([]interface{}); ok {
		for _, v := range variants {
			branch, _ := v.(map[string]interface{})
			if branch == nil {
				continue
			}
			if t := cast.ToString(branch["type"]); t != "null" {
				if t == "" {
					return "string"
				}
				return t
			}
		}
	}
	return "string"
}

func paramTypeOf(schemaType string) ParamType {
	switch schemaType {
	case "integer":
		return ParamInteger
	case "number":
		return ParamFloat
	case "boolean":
		return ParamBoolean
	default:
		return ParamString
	}
}

func enumOf(prop map[string]interface{}) []string {
	raw, ok := prop["enum"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func itemTypeOf(prop map[string]interface{}) string {
	items, _ := prop["items"].(map[string]interface{})
	if items == nil {
		return ""
	}
	return resolveSchemaType(items)
}

func stringSet(v interface{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range cast.ToStringSlice(v) {
		out[s] = struct{}{}
	}
	return out
}

func renderDoc(name, description string, params []Parameter) string {
	desc := description
	if desc == "" {
		desc = name
	}
	var lines []string
	for _, p := range params {
		if p.Description != "" {
			lines = append(lines, fmt.Sprintf("    %s: %s", p.Name, p.Description))
		}
	}
	if len(lines) == 0 {
		return desc
	}
	return desc + "\n\nArgs:\n" + strings.Join(lines, "\n")
}

// Callable 合成结果：参数描述 + 文档 + 调用入口；不持有可变状态，可并发使用
type Callable struct {
	name          string
	description   string
	doc           string
	params        []Parameter
	hasProperties bool
	validator     *gojsonschema.Schema
	synth         *Synthesizer
}

var _ tool.InvokableTool = (*Callable)(nil)

func (c *Callable) Name() string {
	return c.name
}

func (c *Callable) Doc() string {
	return c.doc
}

func (c *Callable) Parameters() []Parameter {
	out := make([]Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// Bind 按参数描述整理调用参数：缺少必填参数返回 ValidationError，未赋值的可选参数不会转发
func (c *Callable) Bind(args map[string]interface{}) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(args))
	known := make(map[string]struct{}, len(c.params))

	for _, p := range c.params {
		known[p.Name] = struct{}{}
		v, ok := args[p.Name]
		if !ok || isAbsent(v) {
			if p.Required {
				return nil, types.NewMCPError(types.KindValidation, types.ErrCodeInvalidParams,
					fmt.Sprintf("missing required argument '%s'", p.Name))
			}
			continue
		}
		coerced, err := coerce(p, v)
		if err != nil {
			return nil, types.Wrap(types.KindValidation, types.ErrCodeInvalidParams,
				fmt.Sprintf("argument '%s' is not a valid %s", p.Name, p.Type), err)
		}
		bound[p.Name] = coerced
	}

	for k, v := range args {
		if _, ok := known[k]; ok || isAbsent(v) {
			continue
		}
		if c.hasProperties {
			zlog.Debug("MCP: dropping undeclared argument", zap.String("tool", c.name), zap.String("arg", k))
			continue
		}
		bound[k] = v
	}

	c.applyQuirks(bound)

	if c.validator != nil {
		result, err := c.validator.Validate(gojsonschema.NewGoLoader(bound))
		if err != nil {
			return nil, types.Wrap(types.KindValidation, types.ErrCodeInvalidParams, "validate arguments", err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return nil, types.NewMCPError(types.KindValidation, types.ErrCodeInvalidParams, strings.Join(msgs, "; "))
		}
	}
	return bound, nil
}

func isAbsent(v interface{}) bool {
	if v == nil {
		return true
	}
	_, ok := v.(absent)
	return ok
}

func coerce(p Parameter, v interface{}) (interface{}, error) {
	switch p.Type {
	case ParamInteger:
		if s, ok := v.(string); ok {
			v = decimal(s)
		}
		return cast.ToInt64E(v)
	case ParamFloat:
		return cast.ToFloat64E(v)
	case ParamBoolean:
		return cast.ToBoolE(v)
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			return v, nil
		}
		return cast.ToStringE(v)
	}
}

// decimal 去掉前导 0，避免 cast 按 base 0 把 "010" 当成八进制
func decimal(s string) string {
	s = strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" || !isDigit(trimmed[0]) {
		if s != "" && trimmed != s {
			// 全是 0，或 0 后面跟小数点等
			trimmed = "0" + trimmed
		}
	}
	return sign + trimmed
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// applyQuirks aws_diagram 在 Windows 上不支持生成超时，强制 timeout=0
func (c *Callable) applyQuirks(args map[string]interface{}) {
	if c.synth.goos == "windows" && strings.HasPrefix(c.name, "aws_diagram") {
		args["timeout"] = 0
	}
}

// Invoke 校验参数后经 Dispatcher 调用；除参数错误外总是返回字符串结果
func (c *Callable) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	bound, err := c.Bind(args)
	if err != nil {
		return "", err
	}
	res := c.synth.dispatcher.Dispatch(ctx, &ToolCallRequest{
		ToolName:     c.name,
		Arguments:    bound,
		InnerTimeout: c.synth.inner,
		OuterTimeout: c.synth.outer,
	})
	return res.Render(c.name), nil
}

// Info 实现 tool.BaseTool
func (c *Callable) Info(_ context.Context) (*schema.ToolInfo, error) {
	params := make(map[string]*schema.ParameterInfo, len(c.params))
	for _, p := range c.params {
		params[p.Name] = parameterInfo(p)
	}
	desc := c.doc
	if desc == "" {
		desc = c.name
	}
	return &schema.ToolInfo{
		Name:        c.name,
		Desc:        desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func parameterInfo(p Parameter) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Desc:     p.Description,
		Required: p.Required,
		Enum:     p.Enum,
	}
	switch p.SchemaType {
	case "integer":
		info.Type = schema.Integer
	case "number":
		info.Type = schema.Number
	case "boolean":
		info.Type = schema.Boolean
	case "object":
		info.Type = schema.Object
	case "array":
		info.Type = schema.Array
		info.ElemInfo = &schema.ParameterInfo{Type: elemType(p.ItemType)}
	default:
		info.Type = schema.String
	}
	return info
}

func elemType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

// InvokableRun 实现 tool.InvokableTool；参数错误也渲染成 {"error": ...} 交还给模型
func (c *Callable) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]interface{}{}
	if raw := strings.TrimSpace(argumentsInJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			wrapped := types.Wrap(types.KindValidation, types.ErrCodeInvalidParams, "arguments are not a JSON object", err)
			return types.FailureFromError(wrapped).Render(c.name), nil
		}
	}
	out, err := c.Invoke(ctx, args)
	if err != nil {
		return types.FailureFromError(err).Render(c.name), nil
	}
	return out, nil
}
