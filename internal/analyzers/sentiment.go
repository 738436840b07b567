package analyzers

import (
	"strings"

	"github.com/sentinelbist/sentinel/internal/models"
)

// riskKeywords trigger the animal-spirits confidence penalty when present in
// any headline. Matching is case-insensitive on the lowercase Turkish forms.
var riskKeywords = []string{"enflasyon", "belirsizlik"}

// positiveKeywords and negativeKeywords form the scoring lexicon for BIST
// financial news headlines.
var (
	positiveKeywords = []string{
		"rekor", "artış", "yükseliş", "kazanç", "büyüme",
		"güçlü", "temettü", "alım", "kâr", "karını artırdı",
		"yatırım", "anlaşma", "ihale",
	}
	negativeKeywords = []string{
		"düşüş", "zarar", "kayıp", "gerileme", "zayıf",
		"ceza", "dava", "iflas", "satış baskısı", "daralma",
		"kriz", "soruşturma",
	}
)

// SentimentAnalyzer produces the S score in [-1, 1] from news headlines.
type SentimentAnalyzer struct{}

// NewSentimentAnalyzer returns a lexicon-based sentiment analyzer.
func NewSentimentAnalyzer() *SentimentAnalyzer {
	return &SentimentAnalyzer{}
}

// Score scores the headlines and reports whether any risk keyword is present.
// Each headline contributes +1 (positive match), -1 (negative match) or 0;
// the score is the mean contribution over headlines that matched, clamped to
// [-1, 1]. No headlines, or none matching, scores 0.
func (a *SentimentAnalyzer) Score(headlines []models.Headline) (score float64, risky bool) {
	var total, matched int
	for _, h := range headlines {
		title := strings.ToLower(h.Title)
		if containsAny(title, riskKeywords) {
			risky = true
		}
		pos := containsAny(title, positiveKeywords)
		neg := containsAny(title, negativeKeywords)
		switch {
		case pos && !neg:
			total++
			matched++
		case neg && !pos:
			total--
			matched++
		case pos && neg:
			// Mixed headline; counts as scored but neutral.
			matched++
		}
	}
	if matched == 0 {
		return 0, risky
	}
	return clamp(float64(total) / float64(matched)), risky
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
