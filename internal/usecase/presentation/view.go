package presentation

import (
	"regexp"
	"strings"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/usecase/entitlement"
)

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

// Teaser возвращает первые два предложения глубокого толкования.
// Текст, в котором меньше двух предложений, возвращается целиком.
func Teaser(deepInsight string) string {
	trimmed := strings.TrimSpace(deepInsight)
	parts := sentenceBreak.Split(trimmed, -1)
	sentences := make([]string, 0, 2)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sentences = append(sentences, p)
		if len(sentences) == 2 {
			break
		}
	}
	if len(sentences) < 2 {
		return trimmed
	}
	return strings.Join(sentences, ". ") + "."
}

// View то, что клиент может показать в текущей фазе.
type View struct {
	Phase         entitlement.Phase `json:"phase"`
	Essence       string            `json:"essence"`
	HiddenMeaning string            `json:"hiddenMeaning"`
	Teaser        string            `json:"teaser,omitempty"`
	Symbols       []domain.Symbol   `json:"symbols"`
	EmotionalTone string            `json:"emotionalTone"`
	IsFallback    bool              `json:"isFallback"`

	DeepInsight         string   `json:"deepInsight,omitempty"`
	Advice              []string `json:"advice,omitempty"`
	SpiritualMessage    string   `json:"spiritualMessage,omitempty"`
	PsychologicalShadow string   `json:"psychologicalShadow,omitempty"`
	EasternProphecy     string   `json:"easternProphecy,omitempty"`
	SpiritualAdvice     string   `json:"spiritualAdvice,omitempty"`

	State entitlement.State `json:"state"`
}

// BuildView собирает представление. Закрытый результат никогда не содержит
// советов, послания и расширенных разделов.
func BuildView(result domain.InterpretationResult, state entitlement.State) View {
	v := View{
		Phase:         entitlement.PhaseLockedTeaser,
		Essence:       result.Essence,
		HiddenMeaning: result.HiddenMeaning,
		Symbols:       append([]domain.Symbol(nil), result.Symbols...),
		EmotionalTone: result.EmotionalTone,
		IsFallback:    result.IsFallback,
		State:         state,
	}
	if !state.Unlocked {
		v.Teaser = Teaser(result.DeepInsight)
		return v
	}
	v.Phase = entitlement.PhaseUnlocked
	v.DeepInsight = result.DeepInsight
	v.Advice = append([]string(nil), result.Advice...)
	v.SpiritualMessage = result.SpiritualMessage
	v.PsychologicalShadow = result.PsychologicalShadow
	v.EasternProphecy = result.EasternProphecy
	v.SpiritualAdvice = result.SpiritualAdvice
	return v
}
