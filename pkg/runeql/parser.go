// Package runeql - recursive descent parser.
//
// The parser consumes the full token stream up front and walks it with one
// token of lookahead. Expression parsing is a precedence ladder, one method
// per level, from OR down to primary terms. Power (^) is the only
// right-associative operator.
//
// There is no error recovery: the first violation aborts the parse with a
// SyntaxError carrying the offending token's position and what was expected.
package runeql

import (
	"strconv"
	"strings"
)

// Parser turns RuneQL source text into a Query tree.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse lexes and parses one submission: statements separated by
// semicolons, with an optional trailing semicolon.
func Parse(input string) (*Query, error) {
	tokens, err := NewLexer(input).Tokens()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}

	query := &Query{}
	for {
		for p.at(TokenSemicolon) {
			p.next()
		}
		if p.at(TokenEOF) {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		query.Statements = append(query.Statements, stmt)
		if !p.at(TokenSemicolon) && !p.at(TokenEOF) {
			return nil, p.errExpected("';' or end of input")
		}
	}
	if len(query.Statements) == 0 {
		return nil, p.errExpected("a statement")
	}
	return query, nil
}

// MustParse parses input and panics on error. Test helper.
func MustParse(input string) *Query {
	q, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return q
}

func (p *Parser) peekTok() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	t := p.peekTok()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *Parser) at(kind TokenKind) bool { return p.peekTok().Kind == kind }

func (p *Parser) atKeyword(word string) bool { return p.peekTok().isKeyword(word) }

func (p *Parser) expect(kind TokenKind, expected string) (Token, error) {
	if !p.at(kind) {
		return Token{}, p.errExpected(expected)
	}
	return p.next(), nil
}

func (p *Parser) expectKeyword(word string) error {
	if !p.atKeyword(word) {
		return p.errExpected(word)
	}
	p.next()
	return nil
}

func (p *Parser) errExpected(expected string) error {
	t := p.peekTok()
	return &SyntaxError{Pos: t.Pos, Expected: expected, Found: t.String()}
}

// acceptName consumes an identifier, allowing reserved words where the
// grammar is unambiguous (labels, relationship types, property names).
func (p *Parser) acceptName(expected string) (string, error) {
	t := p.peekTok()
	if t.Kind != TokenIdent && t.Kind != TokenKeyword {
		return "", p.errExpected(expected)
	}
	p.next()
	return t.Literal, nil
}

// ---------------------------------------------------------------------------
// Statements

func (p *Parser) parseStatement() (Statement, error) {
	t := p.peekTok()
	if t.Kind != TokenKeyword {
		return nil, p.errExpected("MATCH, CREATE, MERGE, DELETE, SET, REMOVE, or RETURN")
	}
	switch t.Literal {
	case "MATCH":
		return p.parseMatch()
	case "CREATE":
		return p.parseCreate()
	case "MERGE":
		return p.parseMerge()
	case "DELETE", "DETACH":
		return p.parseDelete()
	case "SET":
		return p.parseSet()
	case "REMOVE":
		return p.parseRemove()
	case "RETURN":
		ret, err := p.parseReturnClause()
		if err != nil {
			return nil, err
		}
		return &ReturnStatement{Return: ret}, nil
	default:
		return nil, p.errExpected("MATCH, CREATE, MERGE, DELETE, SET, REMOVE, or RETURN")
	}
}

func (p *Parser) parseMatch() (*MatchStatement, error) {
	p.next() // MATCH
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	stmt := &MatchStatement{Patterns: patterns}
	if p.atKeyword("WHERE") {
		p.next()
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.atKeyword("RETURN") {
		if stmt.Return, err = p.parseReturnClause(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseCreate() (*CreateStatement, error) {
	p.next() // CREATE
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	return &CreateStatement{Patterns: patterns}, nil
}

func (p *Parser) parseMerge() (*MergeStatement, error) {
	p.next() // MERGE
	pattern, err := p.parsePatternPart()
	if err != nil {
		return nil, err
	}
	stmt := &MergeStatement{Pattern: pattern}
	for p.atKeyword("ON") {
		p.next()
		t := p.peekTok()
		switch {
		case t.isKeyword("CREATE"):
			p.next()
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			stmt.OnCreate = append(stmt.OnCreate, items...)
		case t.isKeyword("MATCH"):
			p.next()
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			stmt.OnMatch = append(stmt.OnMatch, items...)
		default:
			return nil, p.errExpected("CREATE or MATCH after ON")
		}
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStatement, error) {
	stmt := &DeleteStatement{}
	if p.atKeyword("DETACH") {
		p.next()
		stmt.Detach = true
	}
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Exprs = append(stmt.Exprs, expr)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}
	return stmt, nil
}

func (p *Parser) parseSet() (*SetStatement, error) {
	p.next() // SET
	items, err := p.parseSetItems()
	if err != nil {
		return nil, err
	}
	return &SetStatement{Items: items}, nil
}

func (p *Parser) parseSetItems() ([]SetItem, error) {
	var items []SetItem
	for {
		variable, err := p.expect(TokenIdent, "a variable")
		if err != nil {
			return nil, err
		}
		item := SetItem{Variable: variable.Literal}
		switch {
		case p.at(TokenDot):
			p.next()
			if item.Property, err = p.acceptName("a property name"); err != nil {
				return nil, err
			}
			if _, err = p.expect(TokenEq, "'='"); err != nil {
				return nil, err
			}
		case p.at(TokenEq):
			p.next()
		case p.at(TokenPlusEq):
			p.next()
			item.Merge = true
		default:
			return nil, p.errExpected("'.', '=', or '+='")
		}
		if item.Value, err = p.parseExpr(); err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}
	return items, nil
}

func (p *Parser) parseRemove() (*RemoveStatement, error) {
	p.next() // REMOVE
	stmt := &RemoveStatement{}
	for {
		variable, err := p.expect(TokenIdent, "a variable")
		if err != nil {
			return nil, err
		}
		item := RemoveItem{Variable: variable.Literal}
		switch {
		case p.at(TokenDot):
			p.next()
			if item.Property, err = p.acceptName("a property name"); err != nil {
				return nil, err
			}
		case p.at(TokenColon):
			for p.at(TokenColon) {
				p.next()
				label, err := p.acceptName("a label")
				if err != nil {
					return nil, err
				}
				item.Labels = append(item.Labels, label)
			}
		default:
			return nil, p.errExpected("'.' or ':'")
		}
		stmt.Items = append(stmt.Items, item)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}
	return stmt, nil
}

func (p *Parser) parseReturnClause() (*ReturnClause, error) {
	p.next() // RETURN
	clause := &ReturnClause{}
	if p.atKeyword("DISTINCT") {
		p.next()
		clause.Distinct = true
	}
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ReturnItem{Expr: expr}
		if p.atKeyword("AS") {
			p.next()
			if item.Alias, err = p.acceptName("an alias"); err != nil {
				return nil, err
			}
		}
		clause.Items = append(clause.Items, item)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}

	if p.atKeyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: expr}
			switch {
			case p.atKeyword("ASC"):
				p.next()
			case p.atKeyword("DESC"):
				p.next()
				item.Descending = true
			}
			clause.OrderBy = append(clause.OrderBy, item)
			if !p.at(TokenComma) {
				break
			}
			p.next()
		}
	}
	// SKIP and LIMIT may appear in either textual order; execution always
	// applies SKIP before LIMIT.
	for p.atKeyword("SKIP") || p.atKeyword("LIMIT") {
		word := p.next().Literal
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if word == "SKIP" {
			if clause.Skip != nil {
				return nil, p.errExpected("at most one SKIP")
			}
			clause.Skip = expr
		} else {
			if clause.Limit != nil {
				return nil, p.errExpected("at most one LIMIT")
			}
			clause.Limit = expr
		}
	}
	return clause, nil
}

// ---------------------------------------------------------------------------
// Patterns

func (p *Parser) parsePatternList() ([]*PatternPart, error) {
	var parts []*PatternPart
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}
	return parts, nil
}

func (p *Parser) parsePatternPart() (*PatternPart, error) {
	part := &PatternPart{}
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	part.Nodes = append(part.Nodes, node)
	for p.at(TokenMinus) || p.at(TokenLt) {
		rel, err := p.parseRelPattern()
		if err != nil {
			return nil, err
		}
		node, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		part.Rels = append(part.Rels, rel)
		part.Nodes = append(part.Nodes, node)
	}
	return part, nil
}

func (p *Parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	node := &NodePattern{}
	if p.at(TokenIdent) {
		node.Variable = p.next().Literal
	}
	for p.at(TokenColon) {
		p.next()
		label, err := p.acceptName("a label")
		if err != nil {
			return nil, err
		}
		node.Labels = append(node.Labels, label)
	}
	if p.at(TokenLBrace) {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		node.Properties = props
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return node, nil
}

// parseRelPattern handles every relationship form: -->, <--, --,
// -[...]->, <-[...]-, and -[...]-. The arrowheads lex as separate '<'/'>'
// tokens next to '-'.
func (p *Parser) parseRelPattern() (*RelPattern, error) {
	rel := &RelPattern{Direction: DirectionBoth}

	if p.at(TokenLt) {
		p.next()
		if _, err := p.expect(TokenMinus, "'-'"); err != nil {
			return nil, err
		}
		rel.Direction = DirectionIncoming
	} else if _, err := p.expect(TokenMinus, "'-' or '<-'"); err != nil {
		return nil, err
	}

	if p.at(TokenLBracket) {
		p.next()
		if p.at(TokenIdent) {
			rel.Variable = p.next().Literal
		}
		if p.at(TokenColon) {
			p.next()
			typ, err := p.acceptName("a relationship type")
			if err != nil {
				return nil, err
			}
			rel.Types = append(rel.Types, typ)
			// Alternatives separated by '|' or '|:'.
			for p.at(TokenPipe) {
				p.next()
				if p.at(TokenColon) {
					p.next()
				}
				typ, err := p.acceptName("a relationship type")
				if err != nil {
					return nil, err
				}
				rel.Types = append(rel.Types, typ)
			}
		}
		if p.at(TokenStar) {
			p.next()
			if err := p.parseHopRange(rel); err != nil {
				return nil, err
			}
		}
		if p.at(TokenLBrace) {
			props, err := p.parsePropertyMap()
			if err != nil {
				return nil, err
			}
			rel.Properties = props
		}
		if _, err := p.expect(TokenRBracket, "']'"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(TokenMinus, "'-'"); err != nil {
		return nil, err
	}
	if p.at(TokenGt) {
		if rel.Direction == DirectionIncoming {
			return nil, p.errExpected("'('")
		}
		p.next()
		rel.Direction = DirectionOutgoing
	}
	return rel, nil
}

// parseHopRange reads the variable-length suffix after '*': a bare star,
// an exact count, or a min..max range with either side open.
func (p *Parser) parseHopRange(rel *RelPattern) error {
	rel.VarLength = true
	if p.at(TokenInteger) {
		n, err := p.parseHopBound()
		if err != nil {
			return err
		}
		rel.MinHops = &n
		if !p.at(TokenDotDot) {
			// Exact count: *n means exactly n hops.
			exact := n
			rel.MaxHops = &exact
			return nil
		}
		p.next()
	} else if p.at(TokenDotDot) {
		p.next()
	} else {
		return nil // bare '*': unbounded
	}
	if p.at(TokenInteger) {
		n, err := p.parseHopBound()
		if err != nil {
			return err
		}
		rel.MaxHops = &n
	}
	return nil
}

func (p *Parser) parseHopBound() (int, error) {
	t := p.next()
	n, err := strconv.Atoi(t.Literal)
	if err != nil || n < 0 {
		return 0, &SyntaxError{Pos: t.Pos, Expected: "a non-negative hop count", Found: t.Literal}
	}
	return n, nil
}

func (p *Parser) parsePropertyMap() (map[string]Expr, error) {
	if _, err := p.expect(TokenLBrace, "'{'"); err != nil {
		return nil, err
	}
	props := map[string]Expr{}
	if !p.at(TokenRBrace) {
		for {
			key, err := p.acceptName("a property name")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenColon, "':'"); err != nil {
				return nil, err
			}
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			props[key] = value
			if !p.at(TokenComma) {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(TokenRBrace, "'}'"); err != nil {
		return nil, err
	}
	return props, nil
}

// ---------------------------------------------------------------------------
// Expressions

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.atKeyword("NOT") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		t := p.peekTok()
		switch {
		case t.Kind == TokenEq:
			op = "="
		case t.Kind == TokenNeq:
			op = "<>"
		case t.Kind == TokenLt:
			op = "<"
		case t.Kind == TokenLte:
			op = "<="
		case t.Kind == TokenGt:
			op = ">"
		case t.Kind == TokenGte:
			op = ">="
		case t.isKeyword("IN"):
			op = "IN"
		case t.isKeyword("CONTAINS"):
			op = "CONTAINS"
		case t.isKeyword("STARTS"):
			p.next()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: "STARTS WITH", Left: left, Right: right}
			continue
		case t.isKeyword("ENDS"):
			p.next()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: "ENDS WITH", Left: left, Right: right}
			continue
		case t.isKeyword("IS"):
			p.next()
			negated := false
			if p.atKeyword("NOT") {
				p.next()
				negated = true
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &IsNull{Operand: left, Negated: negated}
			continue
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(TokenPlus) || p.at(TokenMinus) {
		op := p.next().Literal
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.at(TokenStar) || p.at(TokenSlash) || p.at(TokenPercent) {
		op := p.next().Literal
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parsePower is right-associative: 2^3^2 is 2^(3^2).
func (p *Parser) parsePower() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.at(TokenCaret) {
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "^", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.at(TokenMinus) || p.at(TokenPlus) {
		op := p.next().Literal
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix applies property access chains to a primary term.
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.at(TokenDot) {
		p.next()
		name, err := p.acceptName("a property name")
		if err != nil {
			return nil, err
		}
		expr = &PropertyAccess{Subject: expr, Property: name}
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.peekTok()
	switch t.Kind {
	case TokenInteger:
		p.next()
		n, err := strconv.ParseInt(t.Literal, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.Pos, Expected: "an integer literal", Found: t.Literal}
		}
		return &Literal{Value: n}, nil

	case TokenFloat:
		p.next()
		f, err := strconv.ParseFloat(t.Literal, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.Pos, Expected: "a float literal", Found: t.Literal}
		}
		return &Literal{Value: f}, nil

	case TokenString:
		p.next()
		return &Literal{Value: t.Literal}, nil

	case TokenParameter:
		p.next()
		return &Parameter{Name: t.Literal}, nil

	case TokenLParen:
		p.next()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenLBracket:
		p.next()
		list := &ListExpr{}
		if !p.at(TokenRBracket) {
			for {
				item, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				list.Items = append(list.Items, item)
				if !p.at(TokenComma) {
					break
				}
				p.next()
			}
		}
		if _, err := p.expect(TokenRBracket, "']'"); err != nil {
			return nil, err
		}
		return list, nil

	case TokenLBrace:
		entries, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		return &MapExpr{Entries: entries}, nil

	case TokenKeyword:
		switch t.Literal {
		case "NULL":
			p.next()
			return &Literal{Value: nil}, nil
		case "TRUE":
			p.next()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.next()
			return &Literal{Value: false}, nil
		case "CASE":
			return p.parseCase()
		}
		return nil, p.errExpected("an expression")

	case TokenIdent:
		p.next()
		if p.at(TokenLParen) {
			return p.parseFunctionCall(t.Literal)
		}
		return &Variable{Name: t.Literal}, nil
	}

	return nil, p.errExpected("an expression")
}

func (p *Parser) parseFunctionCall(name string) (Expr, error) {
	p.next() // '('
	call := &FunctionCall{Name: strings.ToLower(name)}
	if p.at(TokenStar) {
		p.next()
		call.Star = true
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return call, nil
	}
	if p.atKeyword("DISTINCT") {
		p.next()
		call.Distinct = true
	}
	if !p.at(TokenRParen) {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.at(TokenComma) {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.next() // CASE
	caseExpr := &CaseExpr{}
	if !p.atKeyword("WHEN") {
		input, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Input = input
	}
	for p.atKeyword("WHEN") {
		p.next()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Whens = append(caseExpr.Whens, CaseWhen{When: when, Then: then})
	}
	if len(caseExpr.Whens) == 0 {
		return nil, p.errExpected("WHEN")
	}
	if p.atKeyword("ELSE") {
		p.next()
		elseExpr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Else = elseExpr
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return caseExpr, nil
}
