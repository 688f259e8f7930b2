package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// HashDeviceToken 计算设备令牌的 sha256 十六进制摘要（只存摘要，不存明文）
func HashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyDeviceToken hashes the presented token and compares it against the
// stored hash in constant time. A short-circuiting string compare would leak
// how many leading bytes matched.
func VerifyDeviceToken(token, storedHash string) bool {
	hashed := HashDeviceToken(token)
	return timingSafeCompare(hashed, storedHash)
}

func timingSafeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewDeviceToken 生成新的设备令牌，返回明文与存储用摘要。
// 明文只在这里返回一次，调用方负责转交给设备。
func NewDeviceToken() (plaintext, hash string) {
	plaintext = uuid.NewString()
	return plaintext, HashDeviceToken(plaintext)
}

// NewSigningSecret 生成随机 HMAC 密钥（十六进制）
func NewSigningSecret(bytes int) (string, error) {
	if bytes <= 0 {
		bytes = 32
	}
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
