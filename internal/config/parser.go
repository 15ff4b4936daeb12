package config

import (
	"os"
	"path/filepath"

	"github.com/nabbar/webserv/internal/werr"
)

type parser struct {
	toks    []Token
	pos     int
	baseDir string
}

// ParseFile reads path, tokenizes it, and parses the top-level (implicit,
// unnamed) block, splicing any `include <path>;` directives it or its
// descendants contain (spec §6.1: "splices the named file's top-level
// contents into the enclosing block"). Include paths are resolved
// relative to the directory of the file that names them.
func ParseFile(path string) (*Block, werr.Error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, werr.New(werr.ErrConfigMissing, err, "cannot read configuration file "+path)
	}

	p := &parser{toks: Tokenize(string(src)), baseDir: filepath.Dir(path)}
	blk, perr := p.parseBody("")
	if perr != nil {
		return nil, werr.New(werr.ErrConfigParse, perr, "syntax error in "+path)
	}
	return blk, nil
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.toks) {
		return Token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (Token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// parseBody parses directives and child blocks until a matching `}` (for
// a named block) or end of input (for the implicit top-level block).
func (p *parser) parseBody(name string) (*Block, error) {
	blk := newBlock(name, nil)

	for {
		tok, ok := p.peek()
		if !ok {
			if name != "" {
				return nil, errUnterminatedBlock(name)
			}
			return blk, nil
		}
		if tok.Reserved && tok.Value == "}" {
			p.next()
			if name == "" {
				return nil, errUnexpectedClose()
			}
			return blk, nil
		}

		if err := p.parseStatement(blk); err != nil {
			return nil, err
		}
	}
}

// parseStatement consumes one directive (`word+ ";"`) or one child block
// (`word+ "{" ... "}"`) and records it onto blk.
func (p *parser) parseStatement(blk *Block) error {
	var words []string

	for {
		tok, ok := p.next()
		if !ok {
			return errUnexpectedEOF()
		}

		if tok.Reserved && tok.Value == "{" {
			if len(words) == 0 {
				return errEmptyBlockHeader()
			}
			child, err := p.parseBody(words[0])
			if err != nil {
				return err
			}
			child.Args = words[1:]
			blk.Children = append(blk.Children, child)
			return nil
		}

		if tok.Reserved && tok.Value == ";" {
			if len(words) == 0 {
				return nil // stray semicolon, tolerated
			}
			if words[0] == "include" && len(words) == 2 {
				return p.spliceInclude(words[1], blk)
			}
			blk.Directives[words[0]] = append(blk.Directives[words[0]], words[1:])
			return nil
		}

		words = append(words, tok.Value)
	}
}

// spliceInclude parses relPath's file as a top-level block and merges its
// directives and children into blk (spec §6.1).
func (p *parser) spliceInclude(relPath string, blk *Block) error {
	full := relPath
	if !filepath.IsAbs(full) {
		full = filepath.Join(p.baseDir, relPath)
	}

	included, err := ParseFile(full)
	if err != nil {
		return err
	}

	for name, occurrences := range included.Directives {
		blk.Directives[name] = append(blk.Directives[name], occurrences...)
	}
	blk.Children = append(blk.Children, included.Children...)
	return nil
}
