package spiel

import "testing"

func TestMatchExact(t *testing.T) {
	msg := "What a JUANderful day! Paano po kita matutulungan Juankada?"
	if !Match(msg, Agents["MAI"].Opening.Text) {
		t.Fatal("exact spiel should match")
	}
}

func TestMatchFuzzyVariation(t *testing.T) {
	// Same wording, different punctuation and a dropped word.
	msg := "What a juanderful day paano kita matutulungan juankada"
	if !Match(msg, Agents["MAI"].Opening.Text) {
		t.Fatal("close variation should match above threshold")
	}
}

func TestMatchRejectsUnrelated(t *testing.T) {
	if Match("Hello how are you today", Agents["MAI"].Opening.Text) {
		t.Fatal("unrelated message should not match")
	}
}

func TestCountFor(t *testing.T) {
	messages := []string{
		"What a JUANderful day! Paano po kita matutulungan Juankada?",
		"Sure, let me check that for you",
		"Thank you for messaging us Juankada! Please don't hesitate to reach out",
		"Hello there",
		"What a JUANderful day! Paano po kita matutulungan Juankada?",
	}
	opening, closing := CountFor("MAI", messages)
	if opening != 2 || closing != 1 {
		t.Fatalf("got opening=%d closing=%d, want 2 and 1", opening, closing)
	}
}

func TestCountForUnknownAgent(t *testing.T) {
	opening, closing := CountFor("NOBODY", []string{"hello"})
	if opening != 0 || closing != 0 {
		t.Fatalf("unknown agent should count nothing, got %d/%d", opening, closing)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"migs":   "MIGUI",
		"Steven": "STEVE",
		"ALLY":   "AKI",
		"tahari": "MAI",
		"kurt":   "KURT",
		"":       "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectOwnerCreditsScriptOwner(t *testing.T) {
	// KURT typing MAI's opening still credits MAI.
	owner, score := DetectOwner("What a JUANderful day! Paano po kita matutulungan Juankada?", Opening)
	if owner != "MAI" {
		t.Fatalf("owner = %q, want MAI (score %.2f)", owner, score)
	}
	if score < Threshold {
		t.Fatalf("score %.2f below threshold", score)
	}
}

func TestDetectOwnerNoMatch(t *testing.T) {
	owner, score := DetectOwner("random unrelated text about the weather", Opening)
	if owner != "" || score != 0 {
		t.Fatalf("expected no owner, got %q/%.2f", owner, score)
	}
}

func TestCountByOwner(t *testing.T) {
	counts := CountByOwner([]string{
		"What a JUANderful day! Paano po kita matutulungan Juankada?",
		"Good luck Juankada! Play smart, play responsibly",
		"nothing to see here",
	})
	if counts["MAI"].Opening != 1 {
		t.Fatalf("MAI opening = %d, want 1", counts["MAI"].Opening)
	}
	if counts["STEVE"].Closing != 1 {
		t.Fatalf("STEVE closing = %d, want 1", counts["STEVE"].Closing)
	}
	if counts["KURT"].Opening != 0 {
		t.Fatalf("KURT opening = %d, want 0", counts["KURT"].Opening)
	}
}

func TestKeyPhrasesSortedAndDistinct(t *testing.T) {
	phrases := KeyPhrases(Closing)
	if len(phrases) == 0 {
		t.Fatal("no closing key phrases")
	}
	seen := map[string]bool{}
	for i, p := range phrases {
		if seen[p] {
			t.Fatalf("duplicate phrase %q", p)
		}
		seen[p] = true
		if i > 0 && phrases[i-1] > p {
			t.Fatal("phrases not sorted")
		}
	}
}
