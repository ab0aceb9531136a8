package filter

import (
	"math"
	"testing"

	"github.com/ChrisMcGann/hquant/pkg/core"
)

func TestApply(t *testing.T) {
	base := func() *core.PSM {
		return &core.PSM{Sequence: "PEPK", Charge: 2, Proteins: []string{"P1"}, Ratios: []core.Ratio{{IonSerieType: "TMT", IonNumber: 127, Value: 1, Intensity: 100}}}
	}

	tests := []struct {
		name   string
		config Config
		modify func(*core.PSM)
		want   bool
	}{
		{"plain PSM kept", Config{}, func(*core.PSM) {}, true},
		{"discarded dropped", Config{}, func(p *core.PSM) { p.Discarded = true }, false},
		{"PTM dropped when excluded", Config{ExcludePTM: true}, func(p *core.PSM) { p.HasPTM = true }, false},
		{"PTM kept by default", Config{}, func(p *core.PSM) { p.HasPTM = true }, true},
		{"no protein dropped", Config{RequireProteins: true}, func(p *core.PSM) { p.Proteins = nil }, false},
		{"charge below minimum", Config{MinCharge: 3}, func(*core.PSM) {}, false},
		{"charge above maximum", Config{MaxCharge: 1}, func(*core.PSM) {}, false},
		{"NaN ratio dropped", Config{}, func(p *core.PSM) { p.Ratios[0].Value = math.NaN() }, false},
		{"zero ratio dropped", Config{}, func(p *core.PSM) { p.Ratios[0].Value = 0 }, false},
		{"low intensity dropped", Config{MinIntensity: 500}, func(*core.PSM) {}, false},
		{"ion type mismatch", Config{IonTypes: []string{"iTRAQ"}}, func(*core.PSM) {}, false},
		{"ion type prefix match", Config{IonTypes: []string{"TMT"}}, func(*core.PSM) {}, true},
		{"decoy dropped", Config{DecoyPrefix: "DECOY_"}, func(p *core.PSM) { p.Proteins = []string{"DECOY_P1"} }, false},
		{"shared with target kept", Config{DecoyPrefix: "DECOY_"}, func(p *core.PSM) { p.Proteins = []string{"DECOY_P1", "P2"} }, true},
		{"contaminant dropped", Config{ContaminantToken: "CONT"}, func(p *core.PSM) { p.Proteins = []string{"CONT_KRT1"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.modify(p)
			got := tt.config.Apply([]*core.PSM{p})
			if (len(got) == 1) != tt.want {
				t.Errorf("Apply() kept %d PSMs, want kept = %v", len(got), tt.want)
			}
		})
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	p := &core.PSM{Sequence: "PEPK", Ratios: []core.Ratio{
		{IonSerieType: "TMT", Value: 1},
		{IonSerieType: "TMT", Value: -1},
	}}
	got := (&Config{}).Apply([]*core.PSM{p})
	if len(got) != 1 || len(got[0].Ratios) != 1 {
		t.Fatalf("Apply() = %+v, want one PSM with one ratio", got)
	}
	if len(p.Ratios) != 2 {
		t.Errorf("input PSM modified: %d ratios", len(p.Ratios))
	}
}

func TestForOutcome(t *testing.T) {
	c := Config{}
	if c.ForOutcome(core.OutcomePeptide).RequireProteins {
		t.Error("peptide outcome requires proteins")
	}
	if !c.ForOutcome(core.OutcomeProteinGroup).RequireProteins {
		t.Error("protein-group outcome keeps PSMs without proteins")
	}
	if c.RequireProteins {
		t.Error("ForOutcome modified the receiver")
	}
}
