// Package triage scores inbound conversational requests and decides which
// capability tier of the remote model should serve them. Both halves are
// pure functions so they can be tuned or swapped without touching the
// request pipeline.
package triage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/divvychat/divvychat/pkg/models"
)

// Signals is the classifier output: an additive complexity score clamped to
// [1,10] plus independent pattern flags. The flags are not derived from the
// score.
type Signals struct {
	Score                int
	IsGreeting           bool
	IsSimpleConfirmation bool
	IsBasicCalculation   bool
	IsHighlyComplex      bool
	IsDomainEscalation   bool
}

// Keyword tables. The product serves Brazilian Portuguese and English
// speakers, so both vocabularies appear throughout.
var (
	informalMarkers = []string{
		"mano", "véi", "vei", "bora", "rolê", "role", "galera", "massa",
		"blz", "vlw", "tranks", "firmeza", "suave", "daora", "parça",
		"parca", "migué", "treta", "bagulho", "gringo", "dude", "bro",
		"lol", "btw", "gonna", "wanna",
	}

	portugueseWords = []string{
		"dividir", "conta", "pagar", "pessoas", "cada", "quanto", "vamos",
		"entre", "reais", "valor", "grupo", "jantar", "viagem",
	}

	englishWords = []string{
		"split", "bill", "pay", "people", "each", "much", "between",
		"dollars", "amount", "group", "dinner", "trip",
	}

	ambiguousReferents = []string{
		"ele", "ela", "eles", "elas", "aquele", "aquela", "aquilo", "isso",
		"esse", "essa", "he", "she", "they", "them", "that one", "those",
	}

	percentageMarkers = []string{
		"%", "por cento", "porcento", "percent", "proporcional",
		"proporcionalmente", "proportional", "pro rata", "pro-rata",
	}

	// "olá" lives here rather than in the boundary pattern: \b is ASCII-only
	// and never fires after an accented rune.
	greetingPhrases = []string{
		"olá", "e aí", "e ai", "bom dia", "boa tarde", "boa noite",
		"tudo bem", "tudo bom", "good morning", "what's up",
	}

	confirmationWords = map[string]bool{
		"sim": true, "não": true, "nao": true, "ok": true, "okay": true,
		"beleza": true, "blz": true, "claro": true, "certo": true,
		"isso": true, "exato": true, "confirmo": true, "fechado": true,
		"yes": true, "no": true, "sure": true, "yep": true, "yeah": true,
		"right": true, "correct": true,
	}

	calculationMarkers = []string{
		"dividir", "divide", "dividido", "split", "rachar", "racha",
		"metade", "half", "igualmente", "evenly", "por igual",
	}

	escalationMarkers = []string{
		"advogado", "lawyer", "imposto", "tax", "judicial", "processo",
		"processar", "fraude", "fraud", "golpe", "chargeback", "disputa",
		"dispute", "cobrança indevida", "polícia", "police",
	}

	confusionMarkers = []string{
		"não entendi", "nao entendi", "não ficou claro", "nao ficou claro",
		"não tenho certeza", "nao tenho certeza", "confuso", "confusa",
		"i'm not sure", "i am not sure", "not sure", "i don't understand",
		"unclear", "confused",
	}
)

// Word-boundary patterns. "se" is a substring of half the Portuguese
// lexicon ("disse", "impresse"), so conditional and greeting words need
// boundary matching rather than plain substring checks.
var (
	conditionalPattern  = regexp.MustCompile(`(?i)\b(se|caso|exceto|salvo|if|except|unless)\b|a menos que|menos se`)
	greetingWordPattern = regexp.MustCompile(`(?i)\b(oi|ola|opa|hey|hello|hi)\b`)
)

// Currency families. "US$" and "R$" must be checked before the bare "$" so
// one symbol is not counted as two currencies.
var currencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)r\$|reais|real\b`),
	regexp.MustCompile(`(?i)us\$|dólar|dolar|dollars?|usd`),
	regexp.MustCompile(`(?i)€|euros?\b|eur\b`),
	regexp.MustCompile(`(?i)£|libras?\b|gbp\b`),
	regexp.MustCompile(`(?i)¥|ienes?\b|yen\b|jpy\b`),
}

// bareDollar matches "$" not preceded by R/r/S/s (i.e. not R$ or US$).
var bareDollar = regexp.MustCompile(`(^|[^rRsS])\$`)

var groupSizePattern = regexp.MustCompile(`(?i)(\d+)\s*(pessoas?|amigos?|people|persons?|of us|gente)`)

const maxScore = 10

// Classify scores the request text against the conversation context.
// Deterministic and side-effect free.
func Classify(text string, conv models.ConversationContext) Signals {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	score := 1

	if containsAny(lower, informalMarkers) {
		score++
	}
	if mixesLanguages(lower) {
		score++
	}
	if countAmbiguousReferents(words) > 2 {
		score += 2
	}
	if extractGroupSize(lower) > 6 {
		score += 2
	}
	if containsAny(lower, percentageMarkers) {
		score += 3
	}
	if conditionalPattern.MatchString(lower) {
		score += 3
	}
	if countCurrencies(text) >= 2 {
		score += 4
	}
	if len(conv.History) > 10 {
		score++
	}
	if conv.IsGroup() {
		score++
	}

	if score > maxScore {
		score = maxScore
	}

	return Signals{
		Score:                score,
		IsGreeting:           isGreeting(lower, words),
		IsSimpleConfirmation: isSimpleConfirmation(words),
		IsBasicCalculation:   isBasicCalculation(lower, words),
		IsHighlyComplex:      isHighlyComplex(lower, words),
		IsDomainEscalation:   containsAny(lower, escalationMarkers),
	}
}

// HadMidTierConfusion reports whether any prior assistant turn in the
// conversation was served by the mid tier and self-reported confusion. The
// tier router escalates such conversations straight to the high tier.
func HadMidTierConfusion(history []models.Message) bool {
	for _, m := range history {
		if m.Role != models.RoleAssistant || m.Tier != models.TierMid {
			continue
		}
		if containsAny(strings.ToLower(m.Text), confusionMarkers) {
			return true
		}
	}
	return false
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func mixesLanguages(lower string) bool {
	return containsAny(lower, portugueseWords) && containsAny(lower, englishWords)
}

func countAmbiguousReferents(words []string) int {
	count := 0
	joined := " " + strings.Join(words, " ") + " "
	for _, ref := range ambiguousReferents {
		count += strings.Count(joined, " "+ref+" ")
	}
	return count
}

func extractGroupSize(lower string) int {
	max := 0
	for _, match := range groupSizePattern.FindAllStringSubmatch(lower, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

func countCurrencies(text string) int {
	count := 0
	for _, p := range currencyPatterns {
		if p.MatchString(text) {
			count++
		}
	}
	// A bare "$" counts as one more family only when neither R$ nor US$
	// already matched it.
	if bareDollar.MatchString(text) && !currencyPatterns[0].MatchString(text) && !currencyPatterns[1].MatchString(text) {
		count++
	}
	return count
}

func isGreeting(lower string, words []string) bool {
	if len(words) > 5 || len(lower) > 40 {
		return false
	}
	return greetingWordPattern.MatchString(lower) || containsAny(lower, greetingPhrases)
}

func isSimpleConfirmation(words []string) bool {
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		if !confirmationWords[strings.Trim(w, ".,!?")] {
			return false
		}
	}
	return true
}

func isBasicCalculation(lower string, words []string) bool {
	if len(words) > 15 {
		return false
	}
	if containsAny(lower, percentageMarkers) || conditionalPattern.MatchString(lower) {
		return false
	}
	if countCurrencies(lower) >= 2 {
		return false
	}
	hasNumber := false
	for _, w := range words {
		if strings.IndexFunc(w, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
			hasNumber = true
			break
		}
	}
	return hasNumber && containsAny(lower, calculationMarkers)
}

func isHighlyComplex(lower string, words []string) bool {
	if len(words) > 80 || len(lower) > 500 {
		return true
	}
	// Several numbers combined with conditional language reads as a
	// multi-step scenario regardless of overall length.
	numbers := 0
	for _, w := range words {
		if strings.IndexFunc(w, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
			numbers++
		}
	}
	return numbers >= 4 && conditionalPattern.MatchString(lower)
}
