package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/divvychat/divvychat/pkg/models"
)

func TestClassify_BaseScore(t *testing.T) {
	s := Classify("quero dividir a conta", models.ConversationContext{})
	assert.Equal(t, 1, s.Score)
}

func TestClassify_InformalVocabulary(t *testing.T) {
	s := Classify("bora rachar a conta galera", models.ConversationContext{})
	assert.Equal(t, 2, s.Score)
}

func TestClassify_MixedLanguages(t *testing.T) {
	s := Classify("vamos split a conta do jantar", models.ConversationContext{})
	assert.Equal(t, 2, s.Score)
}

func TestClassify_AmbiguousPronouns(t *testing.T) {
	s := Classify("ele disse que ela pagou mas eles não viram isso", models.ConversationContext{})
	assert.Equal(t, 3, s.Score)
}

func TestClassify_LargeGroup(t *testing.T) {
	s := Classify("somos 8 pessoas no total", models.ConversationContext{})
	assert.Equal(t, 3, s.Score)

	s = Classify("somos 5 pessoas no total", models.ConversationContext{})
	assert.Equal(t, 1, s.Score)
}

func TestClassify_PercentageLanguage(t *testing.T) {
	s := Classify("quero pagar 30% da conta", models.ConversationContext{})
	assert.Equal(t, 4, s.Score)
}

func TestClassify_ConditionalLanguage(t *testing.T) {
	s := Classify("divide igual, exceto a bebida", models.ConversationContext{})
	assert.Equal(t, 4, s.Score)
}

func TestClassify_MultipleCurrencies(t *testing.T) {
	s := Classify("paguei R$ 200 e ele pagou US$ 50", models.ConversationContext{})
	assert.Equal(t, 5, s.Score)
}

func TestClassify_SingleCurrencyNotCounted(t *testing.T) {
	s := Classify("a conta deu R$ 150", models.ConversationContext{})
	assert.Equal(t, 1, s.Score)
}

func TestClassify_ConversationSignals(t *testing.T) {
	history := make([]models.Message, 11)
	conv := models.ConversationContext{History: history, GroupID: "g1"}

	s := Classify("quanto cada um paga?", conv)
	assert.Equal(t, 3, s.Score) // base + long history + group
}

func TestClassify_ScoreClampedAtTen(t *testing.T) {
	text := "se a galera confirmar, divide 40% pra ele e o resto proporcional " +
		"entre 9 pessoas, exceto quem pagou em US$ porque o resto foi em R$"
	conv := models.ConversationContext{History: make([]models.Message, 12), GroupID: "g1"}

	s := Classify(text, conv)
	assert.Equal(t, 10, s.Score)
}

func TestClassify_ScoreMonotonicUnderAddedSignals(t *testing.T) {
	base := "divide a conta do jantar entre a gente"
	variants := []string{
		base,
		base + " proporcional",
		base + " proporcional, exceto a sobremesa",
		base + " proporcional, exceto a sobremesa, metade em R$ e metade em US$",
	}

	prev := 0
	for _, text := range variants {
		s := Classify(text, models.ConversationContext{})
		assert.GreaterOrEqual(t, s.Score, prev, "text: %s", text)
		prev = s.Score
	}
}

func TestClassify_GreetingFlag(t *testing.T) {
	assert.True(t, Classify("Oi! Tudo bem?", models.ConversationContext{}).IsGreeting)
	assert.True(t, Classify("bom dia", models.ConversationContext{}).IsGreeting)
	assert.False(t, Classify("oi, preciso dividir uma conta enorme do jantar de ontem com juros", models.ConversationContext{}).IsGreeting)
}

func TestClassify_ConfirmationFlag(t *testing.T) {
	assert.True(t, Classify("sim", models.ConversationContext{}).IsSimpleConfirmation)
	assert.True(t, Classify("ok beleza", models.ConversationContext{}).IsSimpleConfirmation)
	assert.True(t, Classify("yes", models.ConversationContext{}).IsSimpleConfirmation)
	assert.False(t, Classify("sim mas quero mudar o valor", models.ConversationContext{}).IsSimpleConfirmation)
}

func TestClassify_BasicCalculationFlag(t *testing.T) {
	assert.True(t, Classify("dividir 100 entre 4", models.ConversationContext{}).IsBasicCalculation)
	assert.True(t, Classify("split 60 evenly", models.ConversationContext{}).IsBasicCalculation)
	// Percentage language disqualifies the basic-calculation shortcut
	assert.False(t, Classify("dividir 100 com 30% pra mim", models.ConversationContext{}).IsBasicCalculation)
}

func TestClassify_HighlyComplexFlag(t *testing.T) {
	long := ""
	for i := 0; i < 90; i++ {
		long += "palavra "
	}
	assert.True(t, Classify(long, models.ConversationContext{}).IsHighlyComplex)

	multi := "se o João pagar 50 e a Ana 30, sobra 120 pra dividir entre 4, menos os 15 do estacionamento"
	assert.True(t, Classify(multi, models.ConversationContext{}).IsHighlyComplex)

	assert.False(t, Classify("divide a conta", models.ConversationContext{}).IsHighlyComplex)
}

func TestClassify_DomainEscalationFlag(t *testing.T) {
	assert.True(t, Classify("isso virou disputa, vou falar com advogado", models.ConversationContext{}).IsDomainEscalation)
	assert.True(t, Classify("I think this is fraud", models.ConversationContext{}).IsDomainEscalation)
	assert.False(t, Classify("divide a conta", models.ConversationContext{}).IsDomainEscalation)
}

func TestHadMidTierConfusion(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleCaller, Text: "divide aí"},
		{Role: models.RoleAssistant, Tier: models.TierMid, Text: "Não tenho certeza se entendi os valores."},
	}
	assert.True(t, HadMidTierConfusion(history))

	// Confusion from the low tier does not trigger the escalation signal
	history[1].Tier = models.TierLow
	assert.False(t, HadMidTierConfusion(history))

	// Confident mid-tier answers do not trigger it either
	history[1].Tier = models.TierMid
	history[1].Text = "Cada um paga R$ 25."
	assert.False(t, HadMidTierConfusion(history))
}

func TestRoute_PriorityOrder(t *testing.T) {
	tests := []struct {
		name      string
		signals   Signals
		confusion bool
		want      models.Tier
	}{
		{"low score", Signals{Score: 2}, false, models.TierLow},
		{"score three", Signals{Score: 3}, false, models.TierLow},
		{"greeting wins over high score", Signals{Score: 9, IsGreeting: true}, false, models.TierLow},
		{"confirmation", Signals{Score: 5, IsSimpleConfirmation: true}, false, models.TierLow},
		{"basic calculation", Signals{Score: 4, IsBasicCalculation: true}, false, models.TierLow},
		{"high score", Signals{Score: 8}, false, models.TierHigh},
		{"highly complex", Signals{Score: 5, IsHighlyComplex: true}, false, models.TierHigh},
		{"domain escalation", Signals{Score: 4, IsDomainEscalation: true}, false, models.TierHigh},
		{"prior mid confusion", Signals{Score: 5}, true, models.TierHigh},
		{"middle", Signals{Score: 5}, false, models.TierMid},
		{"score seven", Signals{Score: 7}, false, models.TierMid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.signals, tt.confusion))
		})
	}
}

func TestRoute_RepresentativeTraffic(t *testing.T) {
	// Short greeting goes to the cheap tier
	s := Classify("Oi! Tudo bem?", models.ConversationContext{})
	assert.Equal(t, models.TierLow, Route(s, false))

	// Percentage split across 8 people in two currencies goes to the top tier
	s = Classify("divide 40% pra mim e o resto entre 8 pessoas, parte em R$ e parte em US$", models.ConversationContext{})
	assert.Equal(t, models.TierHigh, Route(s, false))

	// A mid-length request with one conditional clause and nothing else lands in the middle
	text := "a gente foi jantar ontem e a conta veio alta demais pra galera toda " +
		"então quero a ajuda de vocês aqui pra organizar os valores direito " +
		"e fazer o acerto justo pra todo mundo exceto a parte da bebida que fica comigo"
	s = Classify(text, models.ConversationContext{})
	assert.Equal(t, models.TierMid, Route(s, false))
}
