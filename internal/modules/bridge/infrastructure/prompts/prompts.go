package prompts

import (
	_ "embed"
	"strings"
)

// Format 输出格式
type Format string

const (
	// FormatDrawio 在 Draw.io 中交互式作图
	FormatDrawio Format = "drawio"
	// FormatPNG 通过 python diagrams 生成静态图
	FormatPNG Format = "png"
)

var (
	//go:embed templates/drawio.md
	drawioPrompt string
	//go:embed templates/png.md
	pngPrompt string
)

// ParseFormat 空值或未知值按 drawio 处理
func ParseFormat(s string) Format {
	if Format(strings.ToLower(strings.TrimSpace(s))) == FormatPNG {
		return FormatPNG
	}
	return FormatDrawio
}

// SystemPrompt 返回格式对应的 system prompt
func SystemPrompt(f Format) string {
	if f == FormatPNG {
		return strings.TrimSpace(pngPrompt)
	}
	return strings.TrimSpace(drawioPrompt)
}
