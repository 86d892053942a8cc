package domain

import "time"

// DateLayout формат ключа дня для символа дня и кэша.
const DateLayout = "2006-01-02"

// DailySymbol символ дня.
type DailySymbol struct {
	Date     string `json:"date"`
	Emoji    string `json:"emoji"`
	Name     string `json:"name"`
	Meaning  string `json:"meaning"`
	Enhanced bool   `json:"enhanced"`
}

var symbolPool = []Symbol{
	{Emoji: "🦋", Name: "Butterfly", Meaning: "Transformation is near. Pay attention to changes in your life."},
	{Emoji: "🌊", Name: "Ocean", Meaning: "Emotions run deep. Trust your intuition."},
	{Emoji: "🕊️", Name: "Dove", Meaning: "Peace and new beginnings await you."},
	{Emoji: "🏔️", Name: "Mountain", Meaning: "Challenges ahead, but you have the strength to overcome."},
	{Emoji: "🌙", Name: "Moon", Meaning: "Your subconscious is speaking. Listen carefully."},
	{Emoji: "⭐", Name: "Star", Meaning: "Hope and guidance are with you."},
	{Emoji: "🔥", Name: "Fire", Meaning: "Passion and transformation are awakening."},
	{Emoji: "🌳", Name: "Tree", Meaning: "Growth and stability are coming your way."},
	{Emoji: "🦅", Name: "Eagle", Meaning: "Freedom and higher perspective await."},
	{Emoji: "🐍", Name: "Snake", Meaning: "Healing and renewal are in progress."},
}

// DateKey возвращает ключ дня в часовом поясе loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// PoolSymbolFor детерминированно выбирает символ по строке даты:
// сумма кодов символов строки по модулю размера пула.
func PoolSymbolFor(date string) DailySymbol {
	seed := 0
	for _, r := range date {
		seed += int(r)
	}
	s := symbolPool[seed%len(symbolPool)]
	return DailySymbol{Date: date, Emoji: s.Emoji, Name: s.Name, Meaning: s.Meaning}
}
