package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ResponseKeyPrefix 响应缓存键前缀
const ResponseKeyPrefix = "chat:resp:"

// Fingerprint 由规范化消息、上下文哈希与偏好子集计算缓存键
// prefs 以 JSON 编码，结构体字段顺序与 map 键排序保证稳定
func Fingerprint(message, contextHash string, prefs any) string {
	h := sha256.New()
	h.Write([]byte(NormalizeMessage(message)))
	h.Write([]byte{0})
	h.Write([]byte(contextHash))
	h.Write([]byte{0})
	if prefs != nil {
		b, err := json.Marshal(prefs)
		if err == nil {
			h.Write(b)
		}
	}
	return ResponseKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// NormalizeMessage 小写并折叠空白
func NormalizeMessage(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
