package heuristics

import (
	"testing"
	"time"

	"github.com/rawblock/wager-engine/pkg/models"
)

func amounts(xs ...float64) []Bet {
	bets := make([]Bet, len(xs))
	for i, x := range xs {
		bets[i] = Bet{Time: int64(i) * 60, Amount: x}
	}
	return bets
}

func TestDetectors(t *testing.T) {
	cfg := DefaultStrategyConfig()
	tests := []struct {
		name     string
		bets     []Bet
		detector func([]Bet, StrategyConfig) models.StrategySignature
		expected models.StrategySignature
	}{
		{"Flat Constant Stake", amounts(1, 1, 1, 1), DetectFlat, models.StrategySignature{Ratio: 1, MaxStreak: 3, Flag: true}},
		{"Martingale On Constant Stake", amounts(1, 1, 1, 1), DetectMartingale, models.StrategySignature{}},
		{"Martingale Doubling", amounts(1, 2, 4, 8), DetectMartingale, models.StrategySignature{Ratio: 1, MaxStreak: 3, Flag: true}},
		{"Martingale Within Tolerance", amounts(1, 2.09, 4.1), DetectMartingale, models.StrategySignature{Ratio: 1, MaxStreak: 2, Flag: true}},
		{"Martingale Outside Tolerance", amounts(1, 2.2, 4.9), DetectMartingale, models.StrategySignature{}},
		{"Martingale Guarded Pair", amounts(0, 1, 2), DetectMartingale, models.StrategySignature{Ratio: 0.5, MaxStreak: 1, Flag: true}},
		{"DAlembert Unit Steps", amounts(1, 2, 1, 2, 3), DetectDAlembert, models.StrategySignature{Ratio: 1, MaxStreak: 4, Flag: true}},
		{"DAlembert On Constant Stake", amounts(5, 5, 5), DetectDAlembert, models.StrategySignature{}},
		{"Flat Zero Amounts", amounts(0, 0), DetectFlat, models.StrategySignature{Ratio: 1, MaxStreak: 1, Flag: true}},
		{"Flat At Threshold Not Flagged", amounts(1, 1, 1, 1, 2, 3, 5, 8, 13, 21, 34), DetectFlat, models.StrategySignature{Ratio: 0.3, MaxStreak: 3}},
		{"Single Bet", amounts(1), DetectFlat, models.StrategySignature{}},
		{"No Bets", nil, DetectMartingale, models.StrategySignature{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.detector(tt.bets, cfg); got != tt.expected {
				t.Errorf("Expected %+v. Got: %+v", tt.expected, got)
			}
		})
	}
}

func TestDetectorsResortByTime(t *testing.T) {
	bets := []Bet{{Time: 30, Amount: 4}, {Time: 10, Amount: 1}, {Time: 20, Amount: 2}, {Time: 40, Amount: 8}}
	got := DetectMartingale(bets, DefaultStrategyConfig())
	if got.Ratio != 1 || got.MaxStreak != 3 {
		t.Errorf("Expected doubling once sorted by time. Got: %+v", got)
	}
	if bets[0].Time != 30 {
		t.Errorf("Expected caller's slice left in place")
	}
}

func TestFlagThresholdConfigurable(t *testing.T) {
	cfg := DefaultStrategyConfig()
	cfg.FlagThreshold = 0.5
	if got := DetectMartingale(amounts(0, 1, 2), cfg); got.Flag {
		t.Errorf("Expected 0.5 not to exceed a 0.5 threshold. Got: %+v", got)
	}
}

func TestClassify(t *testing.T) {
	cfg := DefaultStrategyConfig()

	single := Classify("one", amounts(1), cfg)
	if single.NTx != 1 || single.Flagged() || single.Profile != nil {
		t.Errorf("Expected degenerate single-bet result. Got: %+v", single)
	}

	res := Classify("flat", amounts(1, 1, 1, 1), cfg)
	if res.Counterparty != "flat" || res.NTx != 4 {
		t.Errorf("Unexpected result header: %+v", res)
	}
	if !res.Flat.Flag || res.Martingale.Ratio != 0 || res.Martingale.Flag || res.DAlembert.Flag {
		t.Errorf("Expected only the flat detector to flag. Got: %+v", res)
	}
	if res.Profile == nil {
		t.Errorf("Expected an activity profile for four bets")
	}
}

func TestAnalyzeActivity(t *testing.T) {
	start := time.Date(2013, time.January, 7, 0, 0, 0, 0, time.UTC).Unix() // Monday
	var times []int64
	for i := int64(0); i < 72; i++ {
		times = append(times, start+i*3600)
	}

	p := AnalyzeActivity(times)
	if p.PeakHourUTC != 0 || p.InferredTimezone != "UTC+11" {
		t.Errorf("Unexpected peak: %d %s", p.PeakHourUTC, p.InferredTimezone)
	}
	if p.WeekdayRatio != 1 || p.Regularity != 1 {
		t.Errorf("Expected weekday-only perfectly regular bets. Got: %+v", p)
	}
	if p.BetsPerDay != 24.34 {
		t.Errorf("Expected 24.34 bets per day. Got: %v", p.BetsPerDay)
	}
	if p.Cadence != "scripted" {
		t.Errorf("Expected scripted cadence. Got: %s", p.Cadence)
	}

	if short := AnalyzeActivity(times[:2]); short.Cadence != "unknown" || short.InferredTimezone != "unknown" {
		t.Errorf("Expected unknown profile for two bets. Got: %+v", short)
	}
}
