package script

import "fmt"

// Parser builds a Program from NKSP source. Two severities of issue are
// collected (spec section 4.4/7): errors prevent execution, warnings do
// not. The parser never panics on malformed input; it records an error
// Issue and attempts to recover at the next statement boundary.
type Parser struct {
	lex    *Lexer
	tok    Token
	peeked *Token

	prog *Program
}

// Parse compiles src into a Program. Check prog.HasErrors() before
// executing it.
func Parse(src string) *Program {
	p := &Parser{lex: NewLexer(src)}
	p.prog = &Program{
		Handlers:          map[string]*HandlerDecl{},
		Functions:         map[string]*FunctionDecl{},
		GlobalIntNames:    map[string]int{},
		GlobalStringNames: map[string]int{},
		PolyIntNames:      map[string]int{},
		ConstInts:         map[string]int32{},
		StackSizeHint:     32,
	}
	p.advance()
	p.parseTopLevel()
	return p.prog
}

func (p *Parser) advance() {
	if p.peeked != nil {
		p.tok = *p.peeked
		p.peeked = nil
		return
	}
	p.tok = p.lex.Next()
}

func (p *Parser) peekNext() Token {
	if p.peeked == nil {
		t := p.lex.Next()
		p.peeked = &t
	}
	return *p.peeked
}

func (p *Parser) errorf(format string, args ...any) {
	p.prog.Issues = append(p.prog.Issues, Issue{
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Start:    p.tok.Start,
		End:      p.tok.End,
	})
}

func (p *Parser) warnf(format string, args ...any) {
	p.prog.Issues = append(p.prog.Issues, Issue{
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Start:    p.tok.Start,
		End:      p.tok.End,
	})
}

func (p *Parser) expect(k Kind, what string) bool {
	if p.tok.Kind != k {
		p.errorf("expected %s, got %q", what, p.tok.Text)
		return false
	}
	p.advance()
	return true
}

// synchronize skips tokens until a likely statement/block boundary after a
// parse error, so one mistake doesn't cascade into unrelated errors.
func (p *Parser) synchronize() {
	for p.tok.Kind != EOF {
		switch p.tok.Kind {
		case End, On, Declare, If, While, Select, Sync, Call:
			return
		}
		p.advance()
	}
}

func (p *Parser) parseTopLevel() {
	for p.tok.Kind != EOF {
		switch p.tok.Kind {
		case On:
			p.parseHandler()
		case Ident:
			// bare function declaration: `function <name> ... end function`
			// uses Ident "function" since it's not a reserved keyword elsewhere.
			if p.tok.Text == "function" {
				p.parseFunction()
			} else {
				p.errorf("unexpected token %q at top level", p.tok.Text)
				p.advance()
			}
		default:
			p.errorf("unexpected token %q at top level", p.tok.Text)
			p.advance()
		}
	}
}

func (p *Parser) parseHandler() {
	p.advance() // consume 'on'
	if p.tok.Kind != Ident {
		p.errorf("expected handler name after 'on'")
		p.synchronize()
		return
	}
	name := p.tok.Text
	p.advance()

	body := p.parseStmtList(func() bool { return p.tok.Kind == End })
	if !p.expect(End, "'end'") {
		p.synchronize()
		return
	}
	if p.tok.Kind == On {
		p.advance()
	}
	p.prog.Handlers[name] = &HandlerDecl{Name: name, Body: body}
}

func (p *Parser) parseFunction() {
	p.advance() // consume 'function'
	if p.tok.Kind != Ident {
		p.errorf("expected function name")
		p.synchronize()
		return
	}
	name := p.tok.Text
	p.advance()
	body := p.parseStmtList(func() bool { return p.tok.Kind == End })
	if !p.expect(End, "'end'") {
		p.synchronize()
		return
	}
	if p.tok.Kind == Ident && p.tok.Text == "function" {
		p.advance()
	}
	p.prog.Functions[name] = &FunctionDecl{Name: name, Body: body}
}

func (p *Parser) parseStmtList(stop func() bool) []Statement {
	var stmts []Statement
	for p.tok.Kind != EOF && !stop() {
		s := p.parseStatement()
		if s != nil {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func (p *Parser) parseStatement() Statement {
	switch p.tok.Kind {
	case Declare:
		return p.parseDeclare()
	case If:
		return p.parseIf()
	case While:
		return p.parseWhile()
	case Select:
		return p.parseSelect()
	case Sync:
		return p.parseSync()
	case Call:
		p.advance()
		if p.tok.Kind != Ident {
			p.errorf("expected function name after 'call'")
			p.synchronize()
			return NoOpStmt{}
		}
		name := p.tok.Text
		p.advance()
		return LeafStmt{Expr: CallExpr{Name: name}}
	case IntVar, StringVar, ArrayVar:
		return p.parseAssignOrExpr()
	default:
		e := p.parseExpr()
		return LeafStmt{Expr: e}
	}
}

func (p *Parser) parseDeclare() Statement {
	p.advance() // 'declare'
	isPoly := false
	isConst := false
	if p.tok.Kind == Polyphonic {
		isPoly = true
		p.advance()
	} else if p.tok.Kind == Const {
		isConst = true
		p.advance()
	}

	switch p.tok.Kind {
	case IntVar:
		name := p.tok.Text
		p.advance()

		var kind VarKind = VarGlobalInt
		idx := 0
		if isPoly {
			kind = VarPolyInt
			if existing, ok := p.prog.PolyIntNames[name]; ok {
				idx = existing
			} else {
				idx = p.prog.PolyIntCount
				p.prog.PolyIntNames[name] = idx
				p.prog.PolyIntCount++
			}
		} else {
			if existing, ok := p.prog.GlobalIntNames[name]; ok {
				idx = existing
			} else {
				idx = p.prog.GlobalIntCount
				p.prog.GlobalIntNames[name] = idx
				p.prog.GlobalIntCount++
			}
		}

		var initExpr Expression
		if p.tok.Kind == Assign {
			p.advance()
			initExpr = p.parseExpr()
		}
		if isConst {
			if lit, ok := initExpr.(IntLitExpr); ok {
				p.prog.ConstInts[name] = lit.Value
			} else {
				p.warnf("const %%%s initializer is not a literal; treating as ordinary global", name)
			}
		}
		target := VarExpr{Sigil: '$', Name: name, Kind: kind, Index: idx}
		if initExpr == nil {
			return NoOpStmt{}
		}
		return AssignStmt{Target: target, Rhs: initExpr}

	case StringVar:
		name := p.tok.Text
		p.advance()
		idx, ok := p.prog.GlobalStringNames[name]
		if !ok {
			idx = p.prog.GlobalStringCount
			p.prog.GlobalStringNames[name] = idx
			p.prog.GlobalStringCount++
		}

		var initExpr Expression
		if p.tok.Kind == Assign {
			p.advance()
			initExpr = p.parseExpr()
		}
		target := VarExpr{Sigil: '@', Name: name, Kind: VarGlobalString, Index: idx}
		if initExpr == nil {
			return NoOpStmt{}
		}
		return AssignStmt{Target: target, Rhs: initExpr}

	case ArrayVar:
		name := p.tok.Text
		p.advance()
		size := 0
		if p.tok.Kind == LBracket {
			p.advance()
			if p.tok.Kind == IntLit {
				size = int(p.tok.Int)
				p.advance()
			}
			p.expect(RBracket, "']'")
		}
		var elems []Expression
		if p.tok.Kind == Assign {
			p.advance()
			p.expect(LParen, "'('")
			for p.tok.Kind != RParen && p.tok.Kind != EOF {
				elems = append(elems, p.parseExpr())
				if p.tok.Kind == Comma {
					p.advance()
				}
			}
			p.expect(RParen, "')'")
		}
		return ArrayDeclStmt{Name: name, Size: size, Elems: elems}

	default:
		p.errorf("expected $, @ or %% variable after 'declare'")
		p.synchronize()
		return NoOpStmt{}
	}
}

func (p *Parser) parseAssignOrExpr() Statement {
	v := p.parseVarOrArrayElem()
	if p.tok.Kind == Assign {
		p.advance()
		rhs := p.parseExpr()
		return AssignStmt{Target: v, Rhs: rhs}
	}
	// Not an assignment: reinterpret as start of a larger expression
	// (rare for a bare variable statement, but keeps grammar total).
	return LeafStmt{Expr: v}
}

func (p *Parser) parseVarOrArrayElem() Expression {
	switch p.tok.Kind {
	case IntVar:
		name := p.tok.Text
		p.advance()
		return p.resolveIntVar(name)
	case StringVar:
		name := p.tok.Text
		p.advance()
		return p.resolveStringVar(name)
	case ArrayVar:
		name := p.tok.Text
		p.advance()
		var v Expression = VarExpr{Sigil: '%', Name: name, Kind: VarArray}
		if p.tok.Kind == LBracket {
			p.advance()
			idx := p.parseExpr()
			p.expect(RBracket, "']'")
			v = ArrayElemExpr{Array: v, Index: idx}
		}
		return v
	}
	p.errorf("expected variable")
	return IntLitExpr{}
}

func (p *Parser) resolveIntVar(name string) Expression {
	if v, ok := p.prog.ConstInts[name]; ok {
		return IntLitExpr{Value: v}
	}
	if idx, ok := p.prog.PolyIntNames[name]; ok {
		return VarExpr{Sigil: '$', Name: name, Kind: VarPolyInt, Index: idx}
	}
	if idx, ok := p.prog.GlobalIntNames[name]; ok {
		return VarExpr{Sigil: '$', Name: name, Kind: VarGlobalInt, Index: idx}
	}
	// Undeclared: treat as a dynamic/built-in read-only variable resolved
	// by the host at runtime (e.g. $EVENT_NOTE, $ENGINE_UPTIME).
	return VarExpr{Sigil: '$', Name: name, Kind: VarDynamic}
}

func (p *Parser) resolveStringVar(name string) Expression {
	if idx, ok := p.prog.GlobalStringNames[name]; ok {
		return VarExpr{Sigil: '@', Name: name, Kind: VarGlobalString, Index: idx}
	}
	return VarExpr{Sigil: '@', Name: name, Kind: VarDynamic}
}

func (p *Parser) parseIf() Statement {
	p.advance() // 'if'
	cond := p.parseExpr()
	thenBody := p.parseStmtList(func() bool {
		return p.tok.Kind == Else || p.tok.Kind == End
	})
	var elseBody []Statement
	if p.tok.Kind == Else {
		p.advance()
		elseBody = p.parseStmtList(func() bool { return p.tok.Kind == End })
	}
	if !p.expect(End, "'end'") {
		p.synchronize()
		return NoOpStmt{}
	}
	if p.tok.Kind == If {
		p.advance()
	}
	return BranchStmt{Cond: cond, Then: thenBody, Else: elseBody}
}

func (p *Parser) parseWhile() Statement {
	p.advance() // 'while'
	cond := p.parseExpr()
	body := p.parseStmtList(func() bool { return p.tok.Kind == End })
	if !p.expect(End, "'end'") {
		p.synchronize()
		return NoOpStmt{}
	}
	if p.tok.Kind == While {
		p.advance()
	}
	return LoopStmt{Cond: cond, Body: body}
}

func (p *Parser) parseSync() Statement {
	p.advance() // 'sync'
	body := p.parseStmtList(func() bool { return p.tok.Kind == End })
	if !p.expect(End, "'end'") {
		p.synchronize()
		return NoOpStmt{}
	}
	if p.tok.Kind == Sync {
		p.advance()
	}
	return SyncStmt{Body: body}
}

func (p *Parser) parseSelect() Statement {
	p.advance() // 'select'
	subject := p.parseExpr()
	var cases []SelectCase
	for p.tok.Kind == Case {
		p.advance()
		low := p.parseExpr()
		var high Expression
		if p.tok.Kind == To {
			p.advance()
			high = p.parseExpr()
		}
		body := p.parseStmtList(func() bool {
			return p.tok.Kind == Case || p.tok.Kind == End
		})
		cases = append(cases, SelectCase{Low: low, High: high, Body: body})
	}
	if !p.expect(End, "'end'") {
		p.synchronize()
		return NoOpStmt{}
	}
	if p.tok.Kind == Select {
		p.advance()
	}
	return SelectStmt{Subject: subject, Cases: cases}
}

// Expression grammar, lowest to highest precedence:
//
//	expr      := or
//	or        := and ("or" and)*
//	and       := not ("and" not)*
//	not       := "not" not | compare
//	compare   := concat (relOp concat)?
//	concat    := bitwise ("&" bitwise)*
//	bitwise   := shift (("band"|"bor") shift)*
//	shift     := additive (("<<"|">>") additive)*
//	additive  := term (("+"|"-") term)*
//	term      := unary (("*"|"/"|"mod") unary)*
//	unary     := "-" unary | "bnot" unary | primary
//	primary   := INT | STRING | var | arrayElem | call | "(" expr ")"
func (p *Parser) parseExpr() Expression { return p.parseOr() }

func (p *Parser) parseOr() Expression {
	left := p.parseAnd()
	for p.tok.Kind == Or {
		p.advance()
		right := p.parseAnd()
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() Expression {
	left := p.parseNot()
	for p.tok.Kind == And {
		p.advance()
		right := p.parseNot()
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseNot() Expression {
	if p.tok.Kind == Not {
		p.advance()
		return UnaryExpr{Op: OpNot, Operand: p.parseNot()}
	}
	return p.parseCompare()
}

func (p *Parser) parseCompare() Expression {
	left := p.parseConcat()
	op, ok := relOp(p.tok.Kind)
	if !ok {
		return left
	}
	p.advance()
	right := p.parseConcat()
	return BinaryExpr{Op: op, Left: left, Right: right}
}

func relOp(k Kind) (BinOp, bool) {
	switch k {
	case Lt:
		return OpLt, true
	case Gt:
		return OpGt, true
	case Le:
		return OpLe, true
	case Ge:
		return OpGe, true
	case Eq:
		return OpEq, true
	case Ne:
		return OpNe, true
	}
	return 0, false
}

func (p *Parser) parseConcat() Expression {
	left := p.parseBitwise()
	if p.tok.Kind != Concat {
		return left
	}
	parts := []Expression{left}
	for p.tok.Kind == Concat {
		p.advance()
		parts = append(parts, p.parseBitwise())
	}
	return ConcatExpr{Parts: parts}
}

func (p *Parser) parseBitwise() Expression {
	left := p.parseShift()
	for p.tok.Kind == BitAnd || p.tok.Kind == BitOr {
		op := OpBitAnd
		if p.tok.Kind == BitOr {
			op = OpBitOr
		}
		p.advance()
		right := p.parseShift()
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseShift() Expression {
	left := p.parseAdditive()
	for p.tok.Kind == ShL || p.tok.Kind == ShR {
		op := OpShL
		if p.tok.Kind == ShR {
			op = OpShR
		}
		p.advance()
		right := p.parseAdditive()
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() Expression {
	left := p.parseTerm()
	for p.tok.Kind == Plus || p.tok.Kind == Minus {
		op := OpAdd
		if p.tok.Kind == Minus {
			op = OpSub
		}
		p.advance()
		right := p.parseTerm()
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseTerm() Expression {
	left := p.parseUnary()
	for p.tok.Kind == Star || p.tok.Kind == Slash || p.tok.Kind == Mod {
		var op BinOp
		switch p.tok.Kind {
		case Star:
			op = OpMul
		case Slash:
			op = OpDiv
		case Mod:
			op = OpMod
		}
		p.advance()
		right := p.parseUnary()
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() Expression {
	if p.tok.Kind == Minus {
		p.advance()
		return UnaryExpr{Op: OpSub, Operand: p.parseUnary()}
	}
	if p.tok.Kind == BitNot {
		p.advance()
		return UnaryExpr{Op: OpBitNot, Operand: p.parseUnary()}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() Expression {
	switch p.tok.Kind {
	case IntLit:
		v := p.tok.Int
		p.advance()
		return IntLitExpr{Value: v}
	case StringLit:
		v := p.tok.Text
		p.advance()
		return StringLitExpr{Value: v}
	case IntVar, StringVar, ArrayVar:
		return p.parseVarOrArrayElem()
	case LParen:
		p.advance()
		e := p.parseExpr()
		p.expect(RParen, "')'")
		return e
	case Ident:
		name := p.tok.Text
		p.advance()
		var args []Expression
		if p.tok.Kind == LParen {
			p.advance()
			for p.tok.Kind != RParen && p.tok.Kind != EOF {
				args = append(args, p.parseExpr())
				if p.tok.Kind == Comma {
					p.advance()
				}
			}
			p.expect(RParen, "')'")
		}
		call := CallExpr{Name: name, Args: args}
		if issues := checkBuiltinSignature(name, args); len(issues) > 0 {
			for _, msg := range issues {
				p.prog.Issues = append(p.prog.Issues, Issue{
					Severity: SeverityError,
					Message:  msg,
					Start:    p.tok.Start,
					End:      p.tok.End,
				})
			}
		}
		return call
	default:
		p.errorf("unexpected token %q in expression", p.tok.Text)
		p.advance()
		return IntLitExpr{}
	}
}
