// Package parser turns MQL text into a raw ast tree.
package parser

import (
	"strconv"

	"github.com/ivmfnal/metacat-sub001/internal/ast"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/qerr"
	"github.com/ivmfnal/metacat-sub001/internal/queryir"
)

// MaxDepth bounds the nesting of file and metadata expressions.
const MaxDepth = 200

// fileKeywords start a file expression. After a comma in a dataset or
// DID list they end the list instead of naming the next item.
var fileKeywords = map[string]bool{
	"files": true, "dataset": true, "datasets": true, "fids": true,
	"union": true, "join": true, "parents": true, "children": true,
	"filter": true, "query": true, "with": true,
}

// Parser is a recursive descent parser over a token slice.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// Parse parses a complete MQL query.
func Parse(src string) (ast.Node, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	n, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, qerr.Syntax(tok.Pos, "unexpected %s after end of query", tok.describe())
	}
	return n, nil
}

// ParseExpression parses a standalone metadata expression, as written
// after "where".
func ParseExpression(src string) (queryir.BoolExpr, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	e, err := p.parseMeta()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, qerr.Syntax(tok.Pos, "unexpected %s after end of expression", tok.describe())
	}
	return e, nil
}

func (p *Parser) current() Token {
	return p.peek(0)
}

func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) isKeyword(n int, kw string) bool {
	tok := p.peek(n)
	return tok.Type == TokenName && tok.Value == kw
}

func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.current()
	if tok.Type != t {
		return Token{}, qerr.Syntax(tok.Pos, "expected %s, found %s", t, tok.describe())
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(0, kw) {
		tok := p.current()
		return qerr.Syntax(tok.Pos, "expected %q, found %s", kw, tok.describe())
	}
	p.advance()
	return nil
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return qerr.Syntax(p.current().Pos, "expression nested deeper than %d levels", MaxDepth)
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) parseQuery() (ast.Node, error) {
	if p.isKeyword(0, "with") && p.bindingAt(1) {
		p.advance()
		params, err := p.parseBindings()
		if err != nil {
			return nil, err
		}
		child, err := p.parseTop()
		if err != nil {
			return nil, err
		}
		return &ast.Scope{Params: params, Child: child}, nil
	}
	return p.parseTop()
}

func (p *Parser) parseTop() (ast.Node, error) {
	if p.isKeyword(0, "datasets") {
		p.advance()
		q, having, err := p.parseDatasetSpec()
		if err != nil {
			return nil, err
		}
		return &ast.DatasetQuery{Query: q, Having: having}, nil
	}
	return p.parseFileExpr()
}

// bindingAt reports whether NAME "=" starts at offset n.
func (p *Parser) bindingAt(n int) bool {
	next := p.peek(n + 1)
	return p.peek(n).Type == TokenName && next.Type == TokenOp && next.Value == "="
}

func (p *Parser) parseBindings() ([]ast.Binding, error) {
	var out []ast.Binding
	for {
		name, err := p.expect(TokenName)
		if err != nil {
			return nil, err
		}
		if tok := p.advance(); tok.Type != TokenOp || tok.Value != "=" {
			return nil, qerr.Syntax(tok.Pos, "expected '=' after %s", name.Value)
		}
		v, err := p.parseConst()
		if err != nil {
			return nil, err
		}
		out = append(out, ast.Binding{Name: name.Value, Value: v})
		if p.current().Type != TokenComma || !p.bindingAt(1) {
			return out, nil
		}
		p.advance()
	}
}

func (p *Parser) parseFileExpr() (ast.Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseFileTerm()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenMinus {
		p.advance()
		right, err := p.parseFileTerm()
		if err != nil {
			return nil, err
		}
		left = &ast.Minus{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseFileTerm() (ast.Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isKeyword(0, "where"):
			p.advance()
			e, err := p.parseMeta()
			if err != nil {
				return nil, err
			}
			n = &ast.MetaFilter{Child: n, Where: e}
		case p.isKeyword(0, "limit"):
			p.advance()
			count, err := p.parseCount()
			if err != nil {
				return nil, err
			}
			n = &ast.Limit{Child: n, N: count}
		case p.isKeyword(0, "skip"):
			p.advance()
			count, err := p.parseCount()
			if err != nil {
				return nil, err
			}
			n = &ast.Skip{Child: n, N: count}
		default:
			return n, nil
		}
	}
}

func (p *Parser) parseCount() (int, error) {
	tok, err := p.expect(TokenInt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.Value)
	if err != nil || n < 0 {
		return 0, qerr.Syntax(tok.Pos, "invalid count %s", tok.Value)
	}
	return n, nil
}

func (p *Parser) parsePrimary() (ast.Node, error) {
	tok := p.current()
	switch tok.Type {
	case TokenLParen:
		p.advance()
		n, err := p.parseFileExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return n, nil
	case TokenLBracket:
		p.advance()
		children, err := p.parseList(TokenRBracket)
		if err != nil {
			return nil, err
		}
		return &ast.Union{Children: children}, nil
	case TokenLBrace:
		p.advance()
		children, err := p.parseList(TokenRBrace)
		if err != nil {
			return nil, err
		}
		return &ast.Join{Children: children}, nil
	case TokenName:
		return p.parseKeywordPrimary(tok)
	}
	return nil, qerr.Syntax(tok.Pos, "expected file expression, found %s", tok.describe())
}

func (p *Parser) parseKeywordPrimary(tok Token) (ast.Node, error) {
	switch tok.Value {
	case "files":
		p.advance()
		if p.isKeyword(0, "from") {
			p.advance()
			return p.parseBasicFileQuery()
		}
		return p.parseFileList()
	case "dataset":
		p.advance()
		return p.parseBasicFileQuery()
	case "fids":
		p.advance()
		return p.parseFIDList()
	case "union", "join":
		p.advance()
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		children, err := p.parseList(TokenRParen)
		if err != nil {
			return nil, err
		}
		if tok.Value == "union" {
			return &ast.Union{Children: children}, nil
		}
		return &ast.Join{Children: children}, nil
	case "parents", "children":
		p.advance()
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		child, err := p.parseFileExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		if tok.Value == "parents" {
			return &ast.ParentsOf{Child: child}, nil
		}
		return &ast.ChildrenOf{Child: child}, nil
	case "filter":
		p.advance()
		return p.parseFilter()
	case "query":
		p.advance()
		return p.parseNamedQuery()
	case "with":
		p.advance()
		params, err := p.parseBindings()
		if err != nil {
			return nil, err
		}
		child, err := p.parseFileTerm()
		if err != nil {
			return nil, err
		}
		return &ast.Scope{Params: params, Child: child}, nil
	}
	return nil, qerr.Syntax(tok.Pos, "expected file expression, found %s", tok.describe())
}

func (p *Parser) parseList(closing TokenType) ([]ast.Node, error) {
	if p.current().Type == closing {
		return nil, qerr.Syntax(p.current().Pos, "empty list")
	}
	var out []ast.Node
	for {
		n, err := p.parseFileExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if p.current().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseBasicFileQuery() (ast.Node, error) {
	q, having, err := p.parseDatasetSpec()
	if err != nil {
		return nil, err
	}
	return &ast.BasicFileQuery{Datasets: q, Having: having}, nil
}

// itemAt reports whether a list item (dataset selector, DID or FID)
// starts at offset n rather than a new file expression.
func (p *Parser) itemAt(n int) bool {
	tok := p.peek(n)
	switch tok.Type {
	case TokenString, TokenInt, TokenFloat:
		return true
	case TokenName:
		if p.peek(n+1).Type == TokenColon || tok.Value == "matching" {
			return true
		}
		return !fileKeywords[tok.Value]
	}
	return false
}

func (p *Parser) parseDatasetSpec() (queryir.DatasetQuery, queryir.BoolExpr, error) {
	var q queryir.DatasetQuery
	for {
		sel, err := p.parseSelector()
		if err != nil {
			return q, nil, err
		}
		q.Selectors = append(q.Selectors, sel)
		if p.current().Type != TokenComma || !p.itemAt(1) {
			break
		}
		p.advance()
	}
	if p.isKeyword(0, "with") && p.isKeyword(1, "children") {
		p.advance()
		p.advance()
		q.WithChildren = true
		if p.isKeyword(0, "recursively") {
			p.advance()
			q.Recursive = true
		}
	}
	var having queryir.BoolExpr
	if p.isKeyword(0, "having") {
		p.advance()
		e, err := p.parseMeta()
		if err != nil {
			return q, nil, err
		}
		having = e
	}
	return q, having, nil
}

func (p *Parser) parseSelector() (queryir.DatasetSelector, error) {
	var sel queryir.DatasetSelector
	if p.isKeyword(0, "matching") {
		p.advance()
		sel.Match = queryir.MatchGlob
		if p.isKeyword(0, "regexp") {
			p.advance()
			sel.Match = queryir.MatchRegexp
		}
	}
	did, err := p.parseDID()
	if err != nil {
		return sel, err
	}
	sel.Namespace, sel.Name = did.Namespace, did.Name
	return sel, nil
}

// parseDID reads [namespace ":"] name. Either part may be quoted.
func (p *Parser) parseDID() (ir.DID, error) {
	first, err := p.parseName()
	if err != nil {
		return ir.DID{}, err
	}
	if p.current().Type != TokenColon {
		return ir.DID{Name: first}, nil
	}
	p.advance()
	name, err := p.parseName()
	if err != nil {
		return ir.DID{}, err
	}
	return ir.DID{Namespace: first, Name: name}, nil
}

func (p *Parser) parseName() (string, error) {
	tok := p.current()
	switch tok.Type {
	case TokenName, TokenString, TokenInt, TokenFloat:
		p.advance()
		return tok.Value, nil
	}
	return "", qerr.Syntax(tok.Pos, "expected name, found %s", tok.describe())
}

func (p *Parser) parseFileList() (ast.Node, error) {
	var dids []ir.DID
	for {
		did, err := p.parseDID()
		if err != nil {
			return nil, err
		}
		dids = append(dids, did)
		if p.current().Type != TokenComma || !p.itemAt(1) {
			return &ast.FileList{DIDs: dids}, nil
		}
		p.advance()
	}
}

func (p *Parser) parseFIDList() (ast.Node, error) {
	var fids []string
	for {
		fid, err := p.parseName()
		if err != nil {
			return nil, err
		}
		fids = append(fids, fid)
		if p.current().Type != TokenComma || !p.itemAt(1) {
			return &ast.FIDList{FIDs: fids}, nil
		}
		p.advance()
	}
}

func (p *Parser) parseFilter() (ast.Node, error) {
	name, err := p.expect(TokenName)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	f := &ast.Filter{Name: name.Value}
	for p.current().Type != TokenRParen {
		if p.bindingAt(0) {
			kw, err := p.parseBindings()
			if err != nil {
				return nil, err
			}
			f.Kwargs = append(f.Kwargs, kw...)
		} else {
			if len(f.Kwargs) > 0 {
				return nil, qerr.Syntax(p.current().Pos, "positional argument after keyword argument")
			}
			v, err := p.parseConst()
			if err != nil {
				return nil, err
			}
			f.Args = append(f.Args, v)
		}
		if p.current().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	inputs, err := p.parseList(TokenRParen)
	if err != nil {
		return nil, err
	}
	f.Inputs = inputs
	return f, nil
}

func (p *Parser) parseNamedQuery() (ast.Node, error) {
	did, err := p.parseDID()
	if err != nil {
		return nil, err
	}
	q := &ast.NamedQuery{Namespace: did.Namespace, Name: did.Name}
	if p.current().Type != TokenLParen {
		return q, nil
	}
	p.advance()
	if p.current().Type != TokenRParen {
		args, err := p.parseBindings()
		if err != nil {
			return nil, err
		}
		q.Args = args
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return q, nil
}
