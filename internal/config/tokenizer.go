// Package config implements the nginx-like configuration grammar (spec
// §6.1): a recursive-descent block/directive tokenizer and parser
// producing an immutable Configuration tree, with a Defaults fallback
// table and github.com/go-playground/validator/v10 validation of the
// resolved settings.
package config

import "strings"

// Token is one lexical unit: either a bare word, or one of the reserved
// single-character symbols `{`, `}`, `;` (spec §6.1's block/directive
// grammar). Grounded on original_source/srcs/parsing/Tokenizer.cpp's
// token classes (word vs. reserved symbol), simplified to this grammar's
// three reserved symbols instead of the original's generic separator/
// reserved-symbol table.
type Token struct {
	Value    string
	Reserved bool
}

const reservedSymbols = "{};"

// Tokenize splits src into words and reserved symbols, skipping `#`
// line comments and whitespace.
func Tokenize(src string) []Token {
	var toks []Token
	i := 0
	n := len(src)

	for i < n {
		c := src[i]

		if c == '#' {
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		}
		if isSpace(c) {
			i++
			continue
		}
		if strings.IndexByte(reservedSymbols, c) >= 0 {
			toks = append(toks, Token{Value: string(c), Reserved: true})
			i++
			continue
		}

		start := i
		for i < n && !isSpace(src[i]) && src[i] != '#' && strings.IndexByte(reservedSymbols, src[i]) < 0 {
			i++
		}
		toks = append(toks, Token{Value: src[start:i]})
	}

	return toks
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
