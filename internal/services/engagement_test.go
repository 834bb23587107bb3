package services

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestArticleEngagementScore(t *testing.T) {
	cases := []struct {
		name    string
		signals []ArticleSignal
		want    float64
	}{
		{
			name:    "no_progress",
			signals: nil,
			want:    0,
		},
		{
			name: "saturated_time_and_scroll",
			signals: []ArticleSignal{
				{ContentLength: 1000, TimeSpentSeconds: 600, ScrollPercentage: 100},
			},
			want: 100,
		},
		{
			name: "partial_time_full_scroll",
			// Expected time for 1000 chars is max(3min, 2min) = 180s.
			// 108s of 180s = 0.6 -> 30 of 50 time points, full scroll -> 50.
			signals: []ArticleSignal{
				{ContentLength: 1000, TimeSpentSeconds: 108, ScrollPercentage: 80},
			},
			want: 80,
		},
		{
			name: "scroll_target_is_80_percent",
			signals: []ArticleSignal{
				{ContentLength: 1000, TimeSpentSeconds: 600, ScrollPercentage: 40},
			},
			want: 75, // 50 time + (40/80)*50 scroll
		},
		{
			name: "short_article_floor_three_minutes",
			// 200 chars would be 2min raw; the 3min floor applies.
			signals: []ArticleSignal{
				{ContentLength: 200, TimeSpentSeconds: 90, ScrollPercentage: 0},
			},
			want: 25, // (90/180)*50
		},
		{
			name: "mean_over_articles",
			signals: []ArticleSignal{
				{ContentLength: 1000, TimeSpentSeconds: 600, ScrollPercentage: 100}, // 100
				{ContentLength: 1000, TimeSpentSeconds: 0, ScrollPercentage: 0},     // 0
			},
			want: 50,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ArticleEngagementScore(tc.signals)
			if !almostEqual(got, tc.want) {
				t.Fatalf("ArticleEngagementScore=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestTimeInvestmentScore(t *testing.T) {
	cases := []struct {
		name    string
		signals []ArticleSignal
		want    float64
	}{
		{name: "no_progress", signals: nil, want: 0},
		{
			name: "floor_four_minutes",
			// 800 chars is 3min raw; the 4min floor applies: 120/240 = 50.
			signals: []ArticleSignal{{ContentLength: 800, TimeSpentSeconds: 120}},
			want:    50,
		},
		{
			name: "long_article",
			// 2400 chars -> ceil(3)*3min = 540s.
			signals: []ArticleSignal{{ContentLength: 2400, TimeSpentSeconds: 540}},
			want:    100,
		},
		{
			name:    "overtime_capped",
			signals: []ArticleSignal{{ContentLength: 800, TimeSpentSeconds: 100000}},
			want:    100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TimeInvestmentScore(tc.signals)
			if !almostEqual(got, tc.want) {
				t.Fatalf("TimeInvestmentScore=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestQuizPerformanceScore(t *testing.T) {
	cases := []struct {
		name    string
		section []float64
		article []float64
		final   []float64
		want    float64
	}{
		{name: "no_attempts", want: 0},
		{name: "article_and_final_without_section", article: []float64{90}, final: []float64{95}, want: 0},
		{name: "section_only", section: []float64{80, 60}, want: 70},
		{
			name:    "all_three_blended",
			section: []float64{80},
			article: []float64{90},
			final:   []float64{100},
			// (0.7*80 + 0.2*90 + 0.1*100) / 1.0
			want: 84,
		},
		{
			name:    "renormalized_without_article",
			section: []float64{80},
			final:   []float64{90},
			// (0.7*80 + 0.1*90) / 0.8
			want: 81.25,
		},
		{
			name:    "clamped_at_100",
			section: []float64{130, 120},
			want:    100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := QuizPerformanceScore(tc.section, tc.article, tc.final)
			if !almostEqual(got, tc.want) {
				t.Fatalf("QuizPerformanceScore=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestInteractionQualityScore(t *testing.T) {
	cases := []struct {
		name         string
		interactions int
		articles     int
		want         float64
	}{
		{name: "no_articles", interactions: 5, articles: 0, want: 0},
		{name: "no_interactions", interactions: 0, articles: 4, want: 0},
		{name: "two_per_article", interactions: 8, articles: 4, want: 100},
		{name: "one_per_article", interactions: 4, articles: 4, want: 80},
		{name: "half_per_article", interactions: 2, articles: 4, want: 60},
		{name: "sparse", interactions: 1, articles: 4, want: 40},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := InteractionQualityScore(tc.interactions, tc.articles)
			if got != tc.want {
				t.Fatalf("InteractionQualityScore(%d,%d)=%v, want %v", tc.interactions, tc.articles, got, tc.want)
			}
		})
	}
}

func TestComputeEngagementWeighting(t *testing.T) {
	// Sub-scores pin to 100 / 70 / 100 / 80:
	// one fully read article, section quizzes averaging 70, one interaction.
	signals := []ArticleSignal{
		{ContentLength: 800, TimeSpentSeconds: 600, ScrollPercentage: 100, Completed: true},
	}
	b := ComputeEngagement(signals, []float64{80, 60}, nil, nil, 1)

	if !almostEqual(b.ArticleEngagement, 100) {
		t.Fatalf("article sub-score=%v, want 100", b.ArticleEngagement)
	}
	if !almostEqual(b.QuizPerformance, 70) {
		t.Fatalf("quiz sub-score=%v, want 70", b.QuizPerformance)
	}
	if !almostEqual(b.TimeInvestment, 100) {
		t.Fatalf("time sub-score=%v, want 100", b.TimeInvestment)
	}
	if !almostEqual(b.InteractionQuality, 80) {
		t.Fatalf("interaction sub-score=%v, want 80", b.InteractionQuality)
	}
	// 0.40*100 + 0.35*70 + 0.15*100 + 0.10*80
	if !almostEqual(b.FinalScore, 87.5) {
		t.Fatalf("final score=%v, want 87.5", b.FinalScore)
	}
}

func TestComputeEngagementBounds(t *testing.T) {
	t.Run("all_zero", func(t *testing.T) {
		b := ComputeEngagement(nil, nil, nil, nil, 0)
		if b.FinalScore != 0 {
			t.Fatalf("empty inputs: final=%v, want 0", b.FinalScore)
		}
	})

	t.Run("saturating", func(t *testing.T) {
		signals := []ArticleSignal{
			{ContentLength: 1000, TimeSpentSeconds: 10000, ScrollPercentage: 100, Completed: true},
		}
		b := ComputeEngagement(signals, []float64{100}, []float64{100}, []float64{100}, 10)
		if b.FinalScore != 100 {
			t.Fatalf("saturating inputs: final=%v, want 100", b.FinalScore)
		}
	})
}
