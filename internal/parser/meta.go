package parser

import (
	"strconv"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

func (p *Parser) parseMeta() (queryir.BoolExpr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	var children []queryir.BoolExpr
	for {
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, e)
		if !p.isKeyword(0, "or") {
			break
		}
		p.advance()
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &queryir.Or{Children: children}, nil
}

func (p *Parser) parseAnd() (queryir.BoolExpr, error) {
	var children []queryir.BoolExpr
	for {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, e)
		if !p.isKeyword(0, "and") {
			break
		}
		p.advance()
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &queryir.And{Children: children}, nil
}

func (p *Parser) parseUnary() (queryir.BoolExpr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	tok := p.current()
	switch {
	case tok.Type == TokenBang || (tok.Type == TokenName && tok.Value == "not"):
		p.advance()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &queryir.Not{Child: child}, nil
	case tok.Type == TokenLParen:
		p.advance()
		e, err := p.parseMeta()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parseTerm()
}

// constAt reports whether a constant starts at offset n.
func (p *Parser) constAt(n int) (bool, int) {
	tok := p.peek(n)
	switch tok.Type {
	case TokenInt, TokenFloat, TokenString, TokenParam:
		return true, 1
	case TokenName:
		return tok.Value == "true" || tok.Value == "false", 1
	case TokenMinus:
		next := p.peek(n + 1).Type
		return next == TokenInt || next == TokenFloat, 2
	}
	return false, 0
}

func (p *Parser) parseTerm() (queryir.BoolExpr, error) {
	// "v" in attr is sugar for attr[any] = "v".
	if ok, width := p.constAt(0); ok && p.isKeyword(width, "in") {
		v, err := p.parseConst()
		if err != nil {
			return nil, err
		}
		p.advance()
		name, err := p.expect(TokenName)
		if err != nil {
			return nil, err
		}
		return &queryir.Cmp{
			Attr:  queryir.Accessor{Name: name.Value, Kind: queryir.AccessAny},
			Op:    queryir.OpEQ,
			Value: v,
		}, nil
	}

	start := p.current()
	acc, err := p.parseAccessor()
	if err != nil {
		return nil, err
	}

	tok := p.current()
	switch {
	case tok.Type == TokenOp:
		p.advance()
		v, err := p.parseConst()
		if err != nil {
			return nil, err
		}
		return &queryir.Cmp{Attr: acc, Op: queryir.Op(tok.Value), Value: v}, nil
	case p.isKeyword(0, "in"):
		return p.parseInTail(acc, false)
	case p.isKeyword(0, "not"):
		p.advance()
		if p.isKeyword(0, "present") {
			return p.parsePresent(acc, true, start)
		}
		if !p.isKeyword(0, "in") {
			return nil, qerr.Syntax(p.current().Pos, "expected \"in\" or \"present\" after \"not\"")
		}
		return p.parseInTail(acc, true)
	case p.isKeyword(0, "present"):
		return p.parsePresent(acc, false, start)
	}
	return nil, qerr.Syntax(tok.Pos, "expected comparison after %s, found %s", acc, tok.describe())
}

func (p *Parser) parsePresent(acc queryir.Accessor, negated bool, start Token) (queryir.BoolExpr, error) {
	p.advance()
	switch acc.Kind {
	case queryir.AccessAny, queryir.AccessAll, queryir.AccessLength:
		return nil, qerr.Syntax(start.Pos, "present cannot test %s", acc)
	}
	return &queryir.Present{Attr: acc, Negated: negated}, nil
}

func (p *Parser) parseInTail(acc queryir.Accessor, not bool) (queryir.BoolExpr, error) {
	p.advance()
	if p.current().Type == TokenLParen {
		p.advance()
		var values []ir.Value
		for {
			v, err := p.parseConst()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.current().Type != TokenComma {
				break
			}
			p.advance()
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &queryir.InSet{Attr: acc, Values: values, Not: not}, nil
	}

	low, err := p.parseConst()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	high, err := p.parseConst()
	if err != nil {
		return nil, err
	}
	return &queryir.InRange{Attr: acc, Low: low, High: high, Not: not}, nil
}

func (p *Parser) parseAccessor() (queryir.Accessor, error) {
	if p.isKeyword(0, "len") && p.peek(1).Type == TokenLParen {
		p.advance()
		p.advance()
		name, err := p.expect(TokenName)
		if err != nil {
			return queryir.Accessor{}, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return queryir.Accessor{}, err
		}
		return queryir.Accessor{Name: name.Value, Kind: queryir.AccessLength}, nil
	}

	name, err := p.expect(TokenName)
	if err != nil {
		return queryir.Accessor{}, err
	}
	acc := queryir.Accessor{Name: name.Value}
	if p.current().Type != TokenLBracket {
		return acc, nil
	}
	p.advance()
	sub := p.advance()
	switch {
	case sub.Type == TokenInt:
		idx, err := strconv.Atoi(sub.Value)
		if err != nil {
			return acc, qerr.Syntax(sub.Pos, "invalid index %s", sub.Value)
		}
		acc.Kind, acc.Index = queryir.AccessIndex, idx
	case sub.Type == TokenString:
		acc.Kind, acc.Key = queryir.AccessKey, sub.Value
	case sub.Type == TokenName && sub.Value == "any":
		acc.Kind = queryir.AccessAny
	case sub.Type == TokenName && sub.Value == "all":
		acc.Kind = queryir.AccessAll
	default:
		return acc, qerr.Syntax(sub.Pos, "expected index, key, any or all, found %s", sub.describe())
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return acc, err
	}
	return acc, nil
}

func (p *Parser) parseConst() (ir.Value, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenInt:
		i, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, qerr.Syntax(tok.Pos, "invalid integer %s", tok.Value)
		}
		return ir.Int(i), nil
	case TokenFloat:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, qerr.Syntax(tok.Pos, "invalid number %s", tok.Value)
		}
		return ir.Float(f), nil
	case TokenString:
		return ir.String(tok.Value), nil
	case TokenParam:
		return ir.Param(tok.Value), nil
	case TokenMinus:
		v, err := p.parseConst()
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case ir.Int:
			return -n, nil
		case ir.Float:
			return -n, nil
		}
		return nil, qerr.Syntax(tok.Pos, "'-' must precede a number")
	case TokenName:
		switch tok.Value {
		case "true":
			return ir.Bool(true), nil
		case "false":
			return ir.Bool(false), nil
		}
	}
	return nil, qerr.Syntax(tok.Pos, "expected constant, found %s", tok.describe())
}
