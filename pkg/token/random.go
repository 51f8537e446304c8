package token

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRandomString 生成一个长度为 n 的十六进制随机字符串。
func GenerateRandomString(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)[:n]
}
