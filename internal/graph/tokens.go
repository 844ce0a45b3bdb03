package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Token is one page credential from tokens.json.
type Token struct {
	PageName string `json:"page_name"`
	Token    string `json:"token"`
}

// LoadTokens reads the tokens file (page name -> credential). A missing
// file is an error; syncing cannot proceed without credentials.
func LoadTokens(path string) (map[string]Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}
	var tokens map[string]Token
	if err := json.Unmarshal(b, &tokens); err != nil {
		return nil, fmt.Errorf("parse tokens file %s: %w", path, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokens file %s has no entries", path)
	}
	return tokens, nil
}

// knownVariations maps alternate page spellings seen in the wild to their
// canonical token entry.
var knownVariations = map[string]string{
	"juancares":           "Juan365 Cares",
	"juan365 cares":       "Juan365 Cares",
	"juanbingo":           "JuanBingo",
	"juansports":          "JuanSports",
	"juan365 livestream":  "Juan365 LiveStream",
	"juan365 live stream": "Juan365 Live Stream",
}

// FindToken resolves a page name to its credential. Matching is
// case-insensitive against both the entry key and its page_name field;
// configured aliases and the built-in variations are tried afterwards.
func FindToken(tokens map[string]Token, pageName string, aliases map[string]string) (Token, bool) {
	return findToken(tokens, pageName, aliases, 0)
}

func findToken(tokens map[string]Token, pageName string, aliases map[string]string, depth int) (Token, bool) {
	if depth > 2 {
		return Token{}, false
	}
	want := strings.ToLower(strings.TrimSpace(pageName))
	if want == "" {
		return Token{}, false
	}
	for key, tok := range tokens {
		if strings.ToLower(strings.TrimSpace(key)) == want {
			return tok, true
		}
		if strings.ToLower(strings.TrimSpace(tok.PageName)) == want {
			return tok, true
		}
	}
	for from, to := range aliases {
		if strings.ToLower(strings.TrimSpace(from)) == want {
			return findToken(tokens, to, nil, depth+1)
		}
	}
	if canon, ok := knownVariations[want]; ok {
		return findToken(tokens, canon, nil, depth+1)
	}
	return Token{}, false
}
