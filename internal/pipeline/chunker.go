// Package pipeline 实现文档摄取流水线：文本分块、财务信息抽取与状态机驱动的处理器。
package pipeline

import (
	"errors"
)

// ErrInvalidChunkConfig 表示分块参数非法（尺寸非正或重叠不小于尺寸）。
var ErrInvalidChunkConfig = errors.New("invalid chunk config: size must be positive and overlap must be in [0, size)")

// TextChunk 是一个文本分块，偏移量以 rune 计数，指向原文本。
type TextChunk struct {
	Text        string
	StartOffset int
	EndOffset   int
}

// SplitText 以滑动窗口把文本切成带重叠的分块。
// 窗口步长为 chunkSize-overlap，偏移按 rune 计算，多字节字符不会被切断。
// 空文本返回空切片，非空文本的分块完整覆盖 [0, len)；
// 相邻分块共享 overlap 个字符，保证语义不在边界处丢失。
func SplitText(text string, chunkSize, overlap int) ([]TextChunk, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, ErrInvalidChunkConfig
	}
	if text == "" {
		return []TextChunk{}, nil
	}

	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []TextChunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, TextChunk{
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
	}
	return chunks, nil
}
