package game

import (
	"math/rand/v2"
	"strings"
	"unicode"
)

const (
	// CodeLength 房間代碼長度
	CodeLength = 6
	// maxCodeLength 延遲建立房間時接受的最長代碼
	maxCodeLength = 16

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator 產生候選房間代碼，唯一性由 Registry 對照現存房間檢查
type CodeGenerator interface {
	Generate() string
}

// CodeFunc 讓一般函數滿足 CodeGenerator
type CodeFunc func() string

// Generate 實作 CodeGenerator
func (f CodeFunc) Generate() string { return f() }

// RandomCodes 從偽隨機來源產生 6 碼大寫英數代碼
type RandomCodes struct{}

// Generate 實作 CodeGenerator
func (RandomCodes) Generate() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode 去除空白並轉為大寫
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// validCode 代碼只能是英數字
func validCode(code string) bool {
	if code == "" || len(code) > maxCodeLength {
		return false
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
