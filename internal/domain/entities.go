package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DreamTextMin минимальная длина описания сна в символах.
	DreamTextMin = 20
	// DreamTextMax максимальная длина описания сна в символах.
	DreamTextMax = 2000
)

// Language код языка интерфейса и ответа (ISO 639-1).
type Language string

const (
	LanguageEN Language = "en"
	LanguageKO Language = "ko"
	LanguageJA Language = "ja"
	LanguageES Language = "es"
	LanguageAR Language = "ar"
)

// DefaultLanguage используется, если язык не указан или не поддерживается.
const DefaultLanguage = LanguageEN

var supportedLanguages = map[Language]struct{}{
	LanguageEN: {},
	LanguageKO: {},
	LanguageJA: {},
	LanguageES: {},
	LanguageAR: {},
}

// NormalizeLanguage приводит код языка к поддерживаемому значению.
// "ko-KR" превращается в "ko", неизвестные коды в DefaultLanguage.
func NormalizeLanguage(raw string) Language {
	code := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	lang := Language(code)
	if _, ok := supportedLanguages[lang]; ok {
		return lang
	}
	return DefaultLanguage
}

// Mood тег настроения сна.
type Mood string

const (
	MoodScary     Mood = "scary"
	MoodPeaceful  Mood = "peaceful"
	MoodConfusing Mood = "confusing"
	MoodVivid     Mood = "vivid"
	MoodRecurring Mood = "recurring"
	MoodLucid     Mood = "lucid"
)

// Viewer пользователь мини-приложения. ID == 0 означает гостя.
type Viewer struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// IsGuest сообщает, что платформа не передала идентификатор.
func (v Viewer) IsGuest() bool {
	return v.ID == 0
}

// DreamSubmission один запрос на толкование.
type DreamSubmission struct {
	Text        string   `json:"text"`
	Moods       []Mood   `json:"moods"`
	IsRecurring bool     `json:"is_recurring"`
	Language    Language `json:"language"`
}

// NewDreamSubmission нормализует ввод: язык, дубликаты настроений, пробелы.
func NewDreamSubmission(text string, moods []string, recurring bool, language string) DreamSubmission {
	seen := make(map[Mood]struct{}, len(moods))
	out := make([]Mood, 0, len(moods))
	for _, m := range moods {
		mood := Mood(strings.ToLower(strings.TrimSpace(m)))
		if mood == "" {
			continue
		}
		if _, ok := seen[mood]; ok {
			continue
		}
		seen[mood] = struct{}{}
		out = append(out, mood)
	}
	return DreamSubmission{
		Text:        strings.TrimSpace(text),
		Moods:       out,
		IsRecurring: recurring,
		Language:    NormalizeLanguage(language),
	}
}

// Validate проверяет длину текста до обращения к внешним сервисам.
func (s DreamSubmission) Validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(s.Text))
	if n < DreamTextMin {
		return fmt.Errorf("%w: текст короче %d символов", ErrValidation, DreamTextMin)
	}
	if n > DreamTextMax {
		return fmt.Errorf("%w: текст длиннее %d символов", ErrValidation, DreamTextMax)
	}
	return nil
}

// MoodStrings возвращает настроения в порядке ввода.
func (s DreamSubmission) MoodStrings() []string {
	out := make([]string, 0, len(s.Moods))
	for _, m := range s.Moods {
		out = append(out, string(m))
	}
	return out
}

// Symbol символ сна.
type Symbol struct {
	Emoji   string `json:"emoji"`
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}

// InterpretationResult результат толкования.
type InterpretationResult struct {
	Essence          string   `json:"essence"`
	HiddenMeaning    string   `json:"hiddenMeaning"`
	DeepInsight      string   `json:"deepInsight"`
	Symbols          []Symbol `json:"symbols"`
	Advice           []string `json:"advice"`
	EmotionalTone    string   `json:"emotionalTone"`
	SpiritualMessage string   `json:"spiritualMessage"`

	PsychologicalShadow string `json:"psychologicalShadow,omitempty"`
	EasternProphecy     string `json:"easternProphecy,omitempty"`
	SpiritualAdvice     string `json:"spiritualAdvice,omitempty"`

	IsFallback bool `json:"isFallback"`
}

const (
	// SymbolsMin минимальное количество символов в результате.
	SymbolsMin = 3
	// SymbolsMax максимальное количество символов в результате.
	SymbolsMax = 5
)

// CheckComplete проверяет обязательные поля результата.
func (r InterpretationResult) CheckComplete() error {
	var missing []string
	if strings.TrimSpace(r.Essence) == "" {
		missing = append(missing, "essence")
	}
	if strings.TrimSpace(r.HiddenMeaning) == "" {
		missing = append(missing, "hiddenMeaning")
	}
	if strings.TrimSpace(r.DeepInsight) == "" {
		missing = append(missing, "deepInsight")
	}
	if strings.TrimSpace(r.EmotionalTone) == "" {
		missing = append(missing, "emotionalTone")
	}
	if strings.TrimSpace(r.SpiritualMessage) == "" {
		missing = append(missing, "spiritualMessage")
	}
	if len(missing) > 0 {
		return fmt.Errorf("нет обязательных полей: %s", strings.Join(missing, ", "))
	}
	if len(r.Symbols) < SymbolsMin || len(r.Symbols) > SymbolsMax {
		return fmt.Errorf("ожидали %d-%d символов, получили %d", SymbolsMin, SymbolsMax, len(r.Symbols))
	}
	return nil
}

// IsStructured сообщает, что результат содержит расширенные поля.
func (r InterpretationResult) IsStructured() bool {
	return r.PsychologicalShadow != "" || r.EasternProphecy != "" || r.SpiritualAdvice != ""
}

// JournalEntry сохранённая запись дневника снов.
type JournalEntry struct {
	ID                 string               `json:"id"`
	ViewerID           int64                `json:"viewer_id"`
	Submission         DreamSubmission      `json:"submission"`
	Result             InterpretationResult `json:"result"`
	UnlockedAtSaveTime bool                 `json:"unlocked_at_save_time"`
	ImageURL           string               `json:"image_url,omitempty"`
	ArtTitle           string               `json:"art_title,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// DreamRecord толкование, сохранённое сервисом интерпретации.
type DreamRecord struct {
	ID          int64
	ViewerID    int64
	Text        string
	Moods       []string
	IsRecurring bool
	Language    Language
	Result      InterpretationResult
	CreatedAt   time.Time
}

// Visualization результат генерации изображения.
type Visualization struct {
	ImageURL string `json:"imageUrl"`
	ArtTitle string `json:"artTitle"`
}

// VisualizationRequest запрос на генерацию изображения.
type VisualizationRequest struct {
	DreamText     string   `json:"dreamText"`
	Symbols       []Symbol `json:"symbols"`
	EmotionalTone string   `json:"emotionalTone"`
	ViewerID      int64    `json:"userId"`
}
