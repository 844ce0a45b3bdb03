// Package spiel matches outgoing page messages against agent greeting and
// sign-off scripts ("spiels") using fuzzy text similarity.
//
// A message can be typed by one agent but use another agent's script; the
// count is credited to the script's owner.
package spiel

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Threshold is the minimum similarity ratio for a match.
const Threshold = 0.70

type Kind string

const (
	Opening Kind = "opening"
	Closing Kind = "closing"
)

// Spiel is one script with key phrases used for cheap SQL prefiltering
// before the fuzzy pass.
type Spiel struct {
	Text       string
	KeyPhrases []string
}

type AgentSpiels struct {
	Opening Spiel
	Closing Spiel
}

// Agents maps canonical agent name to their scripts.
var Agents = map[string]AgentSpiels{
	"MAI": {
		Opening: Spiel{
			Text:       "What a JUANderful day! Paano po kita matutulungan Juankada?",
			KeyPhrases: []string{"juanderful day", "matutulungan juankada"},
		},
		Closing: Spiel{
			Text:       "Thank you for messaging us Juankada! Please don't hesitate to reach out",
			KeyPhrases: []string{"thank you for messaging", "juankada", "reach out"},
		},
	},
	"STEVE": {
		Opening: Spiel{
			Text:       "Hello Juankada, I just JUANted to ask if you need any assistance",
			KeyPhrases: []string{"juankada", "juanted to ask", "assistance"},
		},
		Closing: Spiel{
			Text:       "Good luck Juankada! Play smart, play responsibly",
			KeyPhrases: []string{"good luck juankada", "play smart", "play responsibly"},
		},
	},
	"JAM": {
		Opening: Spiel{
			Text:       "Good day juankada ano po maitutulong ko sa inyo today?",
			KeyPhrases: []string{"good day juankada", "maitutulong ko"},
		},
		Closing: Spiel{
			Text:       "Maraming salamat, Juankada! Nandito lang kami",
			KeyPhrases: []string{"maraming salamat", "juankada", "nandito lang"},
		},
	},
	"KRISTIA": {
		Opening: Spiel{
			Text:       "Kamusta JUANkada! Thanks for reaching out, game na game kaming tumulong",
			KeyPhrases: []string{"kamusta juankada", "game na game", "tumulong"},
		},
		Closing: Spiel{
			Text:       "Thanks for reaching out. If may tanong pa po, message ka lang po ulit",
			KeyPhrases: []string{"thanks for reaching out", "tanong pa po", "message ka lang"},
		},
	},
	"DUSTINE": {
		Opening: Spiel{
			Text:       "Hello po Juankada! Kamusta po kayo and How can we help you?",
			KeyPhrases: []string{"hello po juankada", "kamusta po kayo", "how can we help"},
		},
		Closing: Spiel{
			Text:       "Maraming Salamat po Juankada! Sana po nakatulong po ako",
			KeyPhrases: []string{"maraming salamat", "juankada", "nakatulong"},
		},
	},
	"KURT": {
		Opening: Spiel{
			Text:       "Hello Juankada! Nandito lang kami if you need help po",
			KeyPhrases: []string{"hello juankada", "nandito lang kami", "need help"},
		},
		Closing: Spiel{
			Text:       "Good luck po, and always remember to stay in control",
			KeyPhrases: []string{"good luck po", "stay in control"},
		},
	},
	"MIGUI": {
		Opening: Spiel{
			Text:       "Good day Juankada! Ano po ang maitutulong namin sa'yo?",
			KeyPhrases: []string{"good day juankada", "maitutulong namin"},
		},
		Closing: Spiel{
			Text:       "If may mga dagdag katanungan po kayo, feel free to message us anytime",
			KeyPhrases: []string{"dagdag katanungan", "feel free to message"},
		},
	},
	"AKI": {
		Opening: Spiel{
			Text:       "Hello Juankada! How may we help you po?",
			KeyPhrases: []string{"hello juankada", "how may we help"},
		},
		Closing: Spiel{
			Text:       "Thank you for reaching out. We truly appreciate you",
			KeyPhrases: []string{"thank you for reaching out", "truly appreciate"},
		},
	},
}

// nameAliases maps roster spellings (lowercase) to Agents keys.
var nameAliases = map[string]string{
	"migs":   "MIGUI",
	"steven": "STEVE",
	"ally":   "AKI",
	"tahari": "MAI",
}

// NormalizeName maps a roster agent name to its Agents key.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	if canon, ok := nameAliases[strings.ToLower(name)]; ok {
		return canon
	}
	return strings.ToUpper(name)
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// cleanText lowercases, strips punctuation and emoji, and collapses
// whitespace so cosmetic differences don't hurt similarity.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := nonWordRe.ReplaceAllString(strings.ToLower(s), "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Similarity returns the character-level similarity ratio of two strings,
// case-insensitive.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return difflib.NewMatcher(chars(strings.ToLower(a)), chars(strings.ToLower(b))).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Match reports whether message matches spielText at or above Threshold.
func Match(message, spielText string) bool {
	if message == "" || spielText == "" {
		return false
	}
	return Similarity(cleanText(message), cleanText(spielText)) >= Threshold
}

// CountFor counts opening and closing spiel uses for one agent.
func CountFor(agentName string, messages []string) (opening, closing int) {
	cfg, ok := Agents[NormalizeName(agentName)]
	if !ok {
		return 0, 0
	}
	for _, m := range messages {
		if m == "" {
			continue
		}
		if Match(m, cfg.Opening.Text) {
			opening++
		}
		if Match(m, cfg.Closing.Text) {
			closing++
		}
	}
	return opening, closing
}

// DetectOwner returns the agent whose spiel of the given kind best matches
// the message, provided the best score clears Threshold.
func DetectOwner(message string, kind Kind) (owner string, score float64) {
	if message == "" {
		return "", 0
	}
	msg := cleanText(message)
	for name, cfg := range Agents {
		sp := cfg.Opening
		if kind == Closing {
			sp = cfg.Closing
		}
		if sp.Text == "" {
			continue
		}
		if sim := Similarity(msg, cleanText(sp.Text)); sim > score {
			score = sim
			owner = name
		}
	}
	if score < Threshold {
		return "", 0
	}
	return owner, score
}

type Counts struct {
	Opening int
	Closing int
}

// CountByOwner attributes each matching message to the spiel owner.
func CountByOwner(messages []string) map[string]Counts {
	out := make(map[string]Counts, len(Agents))
	for name := range Agents {
		out[name] = Counts{}
	}
	for _, m := range messages {
		if m == "" {
			continue
		}
		if owner, _ := DetectOwner(m, Opening); owner != "" {
			c := out[owner]
			c.Opening++
			out[owner] = c
		}
		if owner, _ := DetectOwner(m, Closing); owner != "" {
			c := out[owner]
			c.Closing++
			out[owner] = c
		}
	}
	return out
}

// KeyPhrases returns all distinct key phrases for a kind, sorted. Used to
// build the SQL LIKE prefilter.
func KeyPhrases(kind Kind) []string {
	set := map[string]struct{}{}
	for _, cfg := range Agents {
		sp := cfg.Opening
		if kind == Closing {
			sp = cfg.Closing
		}
		for _, p := range sp.KeyPhrases {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Owners returns the configured agent names, sorted.
func Owners() []string {
	out := make([]string, 0, len(Agents))
	for name := range Agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
