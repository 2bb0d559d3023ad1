package gofilter

import (
	"fmt"
	"strings"

	"github.com/xaionaro-go/avtranscode/types"
)

type parsedFilter struct {
	inLabels  []string
	name      string
	id        string
	args      string
	outLabels []string
}

type parsedChain []parsedFilter

// parseDescription splits a graph description like
// "[in]scale=640:-2,hflip[a];[a][b]overlay=x=10[out]" into chains of
// filters. Escapes and quotes are kept in the arguments, they are
// interpreted by the option parser of each filter.
func parseDescription(desc string) ([]parsedChain, error) {
	p := &descParser{s: desc}
	var chains []parsedChain
	var chain parsedChain
	for {
		p.skipSpaces()
		if p.eof() {
			if len(chain) == 0 {
				return nil, p.errorf("expected a filter")
			}
			chains = append(chains, chain)
			return chains, nil
		}

		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)

		p.skipSpaces()
		if p.eof() {
			continue
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
		case ';':
			p.pos++
			chains = append(chains, chain)
			chain = nil
		default:
			return nil, p.errorf("unexpected character %q", p.s[p.pos])
		}
	}
}

type descParser struct {
	s   string
	pos int
}

func (p *descParser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *descParser) errorf(format string, args ...any) error {
	return fmt.Errorf("unable to parse the graph description at %d: %s: %w", p.pos, fmt.Sprintf(format, args...), types.ErrInvalidArgument)
}

func (p *descParser) skipSpaces() {
	for !p.eof() && strings.IndexByte(" \t\n\r", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *descParser) parseLabels() ([]string, error) {
	var labels []string
	for {
		p.skipSpaces()
		if p.eof() || p.s[p.pos] != '[' {
			return labels, nil
		}
		end := strings.IndexByte(p.s[p.pos:], ']')
		if end < 0 {
			return nil, p.errorf("unterminated label")
		}
		label := p.s[p.pos+1 : p.pos+end]
		if label == "" {
			return nil, p.errorf("empty label")
		}
		labels = append(labels, label)
		p.pos += end + 1
	}
}

func (p *descParser) parseFilter() (parsedFilter, error) {
	var (
		f   parsedFilter
		err error
	)
	f.inLabels, err = p.parseLabels()
	if err != nil {
		return f, err
	}

	p.skipSpaces()
	start := p.pos
	for !p.eof() && strings.IndexByte("=,;[ \t\n\r", p.s[p.pos]) < 0 {
		p.pos++
	}
	name := p.s[start:p.pos]
	if name == "" {
		return f, p.errorf("expected a filter name")
	}
	f.name, f.id, _ = strings.Cut(name, "@")

	if !p.eof() && p.s[p.pos] == '=' {
		p.pos++
		f.args, err = p.parseArgs()
		if err != nil {
			return f, err
		}
	}

	f.outLabels, err = p.parseLabels()
	if err != nil {
		return f, err
	}
	return f, nil
}

func (p *descParser) parseArgs() (string, error) {
	var b strings.Builder
	quoted := false
	for ; !p.eof(); p.pos++ {
		c := p.s[p.pos]
		switch {
		case c == '\\' && !quoted:
			if p.pos+1 >= len(p.s) {
				return "", p.errorf("dangling escape")
			}
			b.WriteByte(c)
			p.pos++
			b.WriteByte(p.s[p.pos])
			continue
		case c == '\'':
			quoted = !quoted
		case !quoted && strings.IndexByte(",;[", c) >= 0:
			return strings.TrimRight(b.String(), " \t\n\r"), nil
		}
		b.WriteByte(c)
	}
	if quoted {
		return "", p.errorf("unterminated quote")
	}
	return strings.TrimRight(b.String(), " \t\n\r"), nil
}
