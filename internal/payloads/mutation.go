package payloads

import (
	"strings"
	"unicode"
)

// Mutation is a closed set of payload transformations
type Mutation int

const (
	MutationIdentity Mutation = iota
	MutationCaseVariation
	MutationEncoding
	MutationWhitespace
	MutationCommentInjection
)

var mutationNames = map[Mutation]string{
	MutationIdentity:         "identity",
	MutationCaseVariation:    "case_variation",
	MutationEncoding:         "encoding",
	MutationWhitespace:       "whitespace",
	MutationCommentInjection: "comment_injection",
}

func (m Mutation) String() string {
	if name, ok := mutationNames[m]; ok {
		return name
	}
	return mutationNames[MutationIdentity]
}

// ParseMutation maps a name to a Mutation. Unknown names map to identity.
func ParseMutation(name string) Mutation {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range mutationNames {
		if n == name {
			return m
		}
	}
	return MutationIdentity
}

// Mutate applies m to payload
func Mutate(payload string, m Mutation) string {
	switch m {
	case MutationCaseVariation:
		return swapCase(payload)
	case MutationEncoding:
		r := strings.NewReplacer("<", "&lt;", ">", "&gt;")
		return r.Replace(payload)
	case MutationWhitespace:
		r := strings.NewReplacer("<", "<\t", ">", "\n>")
		return r.Replace(payload)
	case MutationCommentInjection:
		return strings.ReplaceAll(payload, "<script>", "<script><!--")
	default:
		return payload
	}
}

// Variants returns payload followed by each distinct mutated form
func Variants(payload string, ms []Mutation) []string {
	out := []string{payload}
	seen := map[string]bool{payload: true}
	for _, m := range ms {
		v := Mutate(payload, m)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsUpper(r):
			return unicode.ToLower(r)
		case unicode.IsLower(r):
			return unicode.ToUpper(r)
		}
		return r
	}, s)
}
