package config

import "fmt"

func errUnterminatedBlock(name string) error {
	return fmt.Errorf("unterminated block %q", name)
}

func errUnexpectedClose() error {
	return fmt.Errorf("unexpected '}' with no open block")
}

func errUnexpectedEOF() error {
	return fmt.Errorf("unexpected end of input inside a statement")
}

func errEmptyBlockHeader() error {
	return fmt.Errorf("block opened with '{' but no name preceding it")
}
