package config

// Block is one nested grammar block (spec §6.1: main, http, server,
// location, limit_except, cgi, types, events) or the implicit top-level
// block containing it. Args are the block's header tokens (e.g. a
// location's path, or `~` plus pattern for a regex location).
type Block struct {
	Name       string
	Args       []string
	Directives map[string][][]string
	Children   []*Block
}

func newBlock(name string, args []string) *Block {
	return &Block{Name: name, Args: args, Directives: make(map[string][][]string)}
}

// Get returns the first occurrence of directive name's arguments.
func (b *Block) Get(name string) ([]string, bool) {
	vals, ok := b.Directives[name]
	if !ok || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// GetAll returns every occurrence of directive name (for repeatable
// directives like `listen` or `error_page`).
func (b *Block) GetAll(name string) [][]string {
	return b.Directives[name]
}

// GetString returns directive name's first argument, or def when absent.
func (b *Block) GetString(name, def string) string {
	args, ok := b.Get(name)
	if !ok || len(args) == 0 {
		return def
	}
	return args[0]
}

// ChildrenOf returns every direct child block with the given name.
func (b *Block) ChildrenOf(name string) []*Block {
	var out []*Block
	for _, c := range b.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ChildOf returns the first direct child block with the given name.
func (b *Block) ChildOf(name string) (*Block, bool) {
	for _, c := range b.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
