package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectMode classifies a subject name into a query language mode ("zh" or
// "en"). CJK scripts are decided by rune inspection first because short
// names carry too little signal for statistical detection.
func DetectMode(subjectName string) string {
	name := strings.TrimSpace(subjectName)
	if name == "" {
		return "en"
	}

	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
	}

	code := detectISO6391(name)
	if code == "zh" || code == "ja" || code == "ko" {
		return "zh"
	}
	return "en"
}

func detectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
