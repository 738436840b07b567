package analyzers

import (
	"testing"

	"github.com/sentinelbist/sentinel/internal/models"
)

func headlines(titles ...string) []models.Headline {
	out := make([]models.Headline, len(titles))
	for i, title := range titles {
		out[i] = models.Headline{Title: title}
	}
	return out
}

// TestSentimentAnalyzer_Score verifies lexicon scoring and risk detection.
func TestSentimentAnalyzer_Score(t *testing.T) {
	a := NewSentimentAnalyzer()

	tests := []struct {
		name      string
		headlines []models.Headline
		wantScore float64
		wantRisky bool
	}{
		{
			name:      "no headlines",
			headlines: nil,
			wantScore: 0,
		},
		{
			name:      "all positive",
			headlines: headlines("Şirket rekor kazanç açıkladı", "Temettü kararı alındı"),
			wantScore: 1,
		},
		{
			name:      "all negative",
			headlines: headlines("Hisse sert düşüş yaşadı", "Şirkete ceza kesildi"),
			wantScore: -1,
		},
		{
			name:      "mixed",
			headlines: headlines("Rekor büyüme", "Zarar açıklandı"),
			wantScore: 0,
		},
		{
			name:      "unmatched headlines are neutral",
			headlines: headlines("Genel kurul toplantısı yapıldı"),
			wantScore: 0,
		},
		{
			name:      "risk keyword enflasyon",
			headlines: headlines("Enflasyon verisi bekleniyor"),
			wantScore: 0,
			wantRisky: true,
		},
		{
			name:      "risk keyword belirsizlik with positive news",
			headlines: headlines("Piyasada belirsizlik sürüyor", "Rekor temettü"),
			wantScore: 1,
			wantRisky: true,
		},
		{
			name:      "risk keyword case-insensitive",
			headlines: headlines("BELIRSIZLIK artıyor"),
			wantRisky: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, risky := a.Score(tc.headlines)
			if score != tc.wantScore {
				t.Errorf("score = %v, want %v", score, tc.wantScore)
			}
			if risky != tc.wantRisky {
				t.Errorf("risky = %v, want %v", risky, tc.wantRisky)
			}
		})
	}
}
