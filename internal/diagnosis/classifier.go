package diagnosis

import (
	"strings"
	"unicode"
)

// Category is the classification of an assistant turn.
type Category string

const (
	CategoryQuestion  Category = "question"
	CategoryDiagnosis Category = "diagnosis"
)

func (c Category) Valid() bool {
	return c == CategoryQuestion || c == CategoryDiagnosis
}

// diagnosticKeywords mark concluding language. Matching is a lowercase
// substring test, so stems cover their inflections ("suspect" matches
// "suspected"). Portuguese terms are kept for transcripts in that language.
var diagnosticKeywords = []string{
	"diagnosis:",
	"diagnosis is",
	"my diagnosis",
	"differential diagnos",
	"probable condition",
	"most likely condition",
	"most likely diagnosis",
	"suspect",
	"treatment",
	"i recommend",
	"diagnóstico:",
	"meu diagnóstico",
	"hipótese diagnóstica",
	"condição provável",
	"suspeita",
	"tratamento",
	"recomendo",
}

// examWords only indicate a conclusion when the utterance is not itself a
// question ("I'd order a blood exam." vs "Have you had any exams?"). They
// are matched as whole words so "example" and "examine" do not count.
var examWords = map[string]struct{}{
	"exam":   {},
	"exams":  {},
	"exame":  {},
	"exames": {},
}

// Classify decides whether an assistant utterance is a clarifying question or
// a diagnostic conclusion. Rules are ordered, first match wins:
//  1. diagnostic keyword, or exam keyword without a trailing "?" → diagnosis
//  2. contains "?" → question
//  3. otherwise → question
func Classify(utterance string) Category {
	text := strings.ToLower(utterance)
	trimmed := strings.TrimSpace(text)

	for _, kw := range diagnosticKeywords {
		if strings.Contains(text, kw) {
			return CategoryDiagnosis
		}
	}
	if !strings.HasSuffix(trimmed, "?") && mentionsExam(text) {
		return CategoryDiagnosis
	}
	// Rules 2 and 3: a question mark, or no signal at all, both mean the
	// assistant is still gathering information.
	return CategoryQuestion
}

func mentionsExam(text string) bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := examWords[w]; ok {
			return true
		}
	}
	return false
}
