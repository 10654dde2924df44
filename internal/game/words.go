package game

import "math/rand/v2"

// DefaultWords 預設題庫
var DefaultWords = []string{
	"cat", "house", "car", "tree", "book",
	"phone", "computer", "bicycle", "dog", "flower",
	"sun", "moon", "star", "bird", "fish",
	"apple", "banana", "pizza", "hamburger", "icecream",
}

// RandomWord 均勻隨機選一個詞，允許跨回合重複
func RandomWord(words []string) string {
	if len(words) == 0 {
		return ""
	}
	return words[rand.IntN(len(words))]
}
