package bridge

import (
	"sort"

	"github.com/dop251/goja/ast"
)

// The closure check collects every binding declared anywhere in the
// function and reports referenced names that are neither declared nor
// known globals. Block scoping is ignored, so it prefers missing a free
// variable over rejecting a valid function.

// DefaultGlobals are names every hosted-content runtime provides.
var DefaultGlobals = []string{
	"Array", "ArrayBuffer", "Atomics", "BigInt", "BigInt64Array", "BigUint64Array",
	"Boolean", "DataView", "Date", "Error", "EvalError", "Float32Array", "Float64Array",
	"Function", "Infinity", "Int16Array", "Int32Array", "Int8Array", "Intl", "JSON",
	"Map", "Math", "NaN", "Number", "Object", "Promise", "Proxy", "RangeError",
	"ReferenceError", "Reflect", "RegExp", "Set", "String", "Symbol", "SyntaxError",
	"TypeError", "URIError", "Uint16Array", "Uint32Array", "Uint8Array",
	"Uint8ClampedArray", "WeakMap", "WeakRef", "WeakSet", "AggregateError",
	"arguments", "clearInterval", "clearTimeout", "console", "decodeURI",
	"decodeURIComponent", "encodeURI", "encodeURIComponent", "eval", "globalThis",
	"isFinite", "isNaN", "parseFloat", "parseInt", "queueMicrotask", "setInterval",
	"setTimeout", "structuredClone", "undefined",
	"window", "document", "navigator", "location", "history", "localStorage",
	"sessionStorage", "fetch", "performance", "crypto", "atob", "btoa", "alert",
	"requestAnimationFrame", "cancelAnimationFrame", "getComputedStyle",
	"Event", "CustomEvent", "EventTarget", "Node", "Element", "HTMLElement",
	"MutationObserver", "URL", "URLSearchParams", "TextEncoder", "TextDecoder",
	"Blob", "File", "FormData", "Headers", "Request", "Response", "AbortController",
	"WebSocket", "Worker", "__TAURI__", "__TAURI_INTERNALS__",
}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// freeIdentifiers returns the sorted names prog references but never
// declares, excluding the given globals.
func freeIdentifiers(prog *ast.Program, globals map[string]bool) []string {
	s := &scan{declared: make(map[string]bool), used: make(map[string]bool)}
	s.statements(prog.Body)

	var free []string
	for name := range s.used {
		if s.declared[name] || globals[name] {
			continue
		}
		free = append(free, name)
	}
	sort.Strings(free)
	return free
}

type scan struct {
	declared map[string]bool
	used     map[string]bool
}

func (s *scan) declare(id *ast.Identifier) {
	if id != nil {
		s.declared[id.Name.String()] = true
	}
}

func (s *scan) statements(list []ast.Statement) {
	for _, st := range list {
		s.statement(st)
	}
}

func (s *scan) statement(st ast.Statement) {
	switch n := st.(type) {
	case nil:
	case *ast.BlockStatement:
		if n != nil {
			s.statements(n.List)
		}
	case *ast.ExpressionStatement:
		s.expr(n.Expression)
	case *ast.VariableStatement:
		s.bindings(n.List)
	case *ast.LexicalDeclaration:
		s.bindings(n.List)
	case *ast.FunctionDeclaration:
		s.function(n.Function)
	case *ast.ClassDeclaration:
		s.class(n.Class)
	case *ast.ReturnStatement:
		s.expr(n.Argument)
	case *ast.ThrowStatement:
		s.expr(n.Argument)
	case *ast.IfStatement:
		s.expr(n.Test)
		s.statement(n.Consequent)
		s.statement(n.Alternate)
	case *ast.ForStatement:
		switch init := n.Initializer.(type) {
		case *ast.ForLoopInitializerExpression:
			s.expr(init.Expression)
		case *ast.ForLoopInitializerVarDeclList:
			s.bindings(init.List)
		case *ast.ForLoopInitializerLexicalDecl:
			s.bindings(init.LexicalDeclaration.List)
		}
		s.expr(n.Test)
		s.expr(n.Update)
		s.statement(n.Body)
	case *ast.ForInStatement:
		s.forInto(n.Into)
		s.expr(n.Source)
		s.statement(n.Body)
	case *ast.ForOfStatement:
		s.forInto(n.Into)
		s.expr(n.Source)
		s.statement(n.Body)
	case *ast.WhileStatement:
		s.expr(n.Test)
		s.statement(n.Body)
	case *ast.DoWhileStatement:
		s.statement(n.Body)
		s.expr(n.Test)
	case *ast.SwitchStatement:
		s.expr(n.Discriminant)
		for _, c := range n.Body {
			s.expr(c.Test)
			s.statements(c.Consequent)
		}
	case *ast.TryStatement:
		s.statement(n.Body)
		if n.Catch != nil {
			s.target(n.Catch.Parameter)
			s.statement(n.Catch.Body)
		}
		if n.Finally != nil {
			s.statement(n.Finally)
		}
	case *ast.LabelledStatement:
		// Labels live in their own namespace.
		s.statement(n.Statement)
	case *ast.WithStatement:
		s.expr(n.Object)
		s.statement(n.Body)
	}
}

func (s *scan) forInto(into ast.ForInto) {
	switch n := into.(type) {
	case *ast.ForIntoVar:
		s.binding(n.Binding)
	case *ast.ForDeclaration:
		s.target(n.Target)
	case *ast.ForIntoExpression:
		s.expr(n.Expression)
	}
}

func (s *scan) bindings(list []*ast.Binding) {
	for _, b := range list {
		s.binding(b)
	}
}

func (s *scan) binding(b *ast.Binding) {
	if b == nil {
		return
	}
	s.target(b.Target)
	s.expr(b.Initializer)
}

// target declares every name a binding pattern introduces and scans
// default values and computed keys as ordinary expressions.
func (s *scan) target(t ast.Node) {
	switch n := t.(type) {
	case nil:
	case *ast.Identifier:
		s.declare(n)
	case *ast.AssignExpression:
		s.target(n.Left)
		s.expr(n.Right)
	case *ast.ArrayPattern:
		for _, el := range n.Elements {
			s.target(el)
		}
		s.target(n.Rest)
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			switch prop := p.(type) {
			case *ast.PropertyShort:
				s.declare(&prop.Name)
				s.expr(prop.Initializer)
			case *ast.PropertyKeyed:
				if prop.Computed {
					s.expr(prop.Key)
				}
				s.target(prop.Value)
			}
		}
		s.target(n.Rest)
	}
}

func (s *scan) params(list *ast.ParameterList) {
	if list == nil {
		return
	}
	s.bindings(list.List)
	s.target(list.Rest)
}

func (s *scan) function(fn *ast.FunctionLiteral) {
	if fn == nil {
		return
	}
	s.declare(fn.Name)
	s.params(fn.ParameterList)
	s.statement(fn.Body)
}

func (s *scan) class(c *ast.ClassLiteral) {
	if c == nil {
		return
	}
	s.declare(c.Name)
	s.expr(c.SuperClass)
	for _, el := range c.Body {
		switch n := el.(type) {
		case *ast.FieldDefinition:
			if n.Computed {
				s.expr(n.Key)
			}
			s.expr(n.Initializer)
		case *ast.MethodDefinition:
			if n.Computed {
				s.expr(n.Key)
			}
			s.function(n.Body)
		case *ast.ClassStaticBlock:
			s.statement(n.Block)
		}
	}
}

func (s *scan) exprs(list []ast.Expression) {
	for _, e := range list {
		s.expr(e)
	}
}

func (s *scan) expr(e ast.Expression) {
	switch n := e.(type) {
	case nil:
	case *ast.Identifier:
		s.used[n.Name.String()] = true
	case *ast.FunctionLiteral:
		s.function(n)
	case *ast.ArrowFunctionLiteral:
		s.params(n.ParameterList)
		switch body := n.Body.(type) {
		case *ast.BlockStatement:
			s.statement(body)
		case *ast.ExpressionBody:
			s.expr(body.Expression)
		}
	case *ast.ClassLiteral:
		s.class(n)
	case *ast.AssignExpression:
		s.expr(n.Left)
		s.expr(n.Right)
	case *ast.BinaryExpression:
		s.expr(n.Left)
		s.expr(n.Right)
	case *ast.UnaryExpression:
		s.expr(n.Operand)
	case *ast.ConditionalExpression:
		s.expr(n.Test)
		s.expr(n.Consequent)
		s.expr(n.Alternate)
	case *ast.SequenceExpression:
		s.exprs(n.Sequence)
	case *ast.CallExpression:
		s.expr(n.Callee)
		s.exprs(n.ArgumentList)
	case *ast.NewExpression:
		s.expr(n.Callee)
		s.exprs(n.ArgumentList)
	case *ast.DotExpression:
		s.expr(n.Left)
	case *ast.PrivateDotExpression:
		s.expr(n.Left)
	case *ast.BracketExpression:
		s.expr(n.Left)
		s.expr(n.Member)
	case *ast.OptionalChain:
		s.expr(n.Expression)
	case *ast.Optional:
		s.expr(n.Expression)
	case *ast.SpreadElement:
		s.expr(n.Expression)
	case *ast.AwaitExpression:
		s.expr(n.Argument)
	case *ast.YieldExpression:
		s.expr(n.Argument)
	case *ast.TemplateLiteral:
		s.expr(n.Tag)
		s.exprs(n.Expressions)
	case *ast.ArrayLiteral:
		s.exprs(n.Value)
	case *ast.ArrayPattern:
		s.exprs(n.Elements)
		s.expr(n.Rest)
	case *ast.ObjectLiteral:
		s.properties(n.Value)
	case *ast.ObjectPattern:
		s.properties(n.Properties)
		s.expr(n.Rest)
	}
}

func (s *scan) properties(list []ast.Property) {
	for _, p := range list {
		switch prop := p.(type) {
		case *ast.PropertyShort:
			s.used[prop.Name.Name.String()] = true
			s.expr(prop.Initializer)
		case *ast.PropertyKeyed:
			if prop.Computed {
				s.expr(prop.Key)
			}
			s.expr(prop.Value)
		case *ast.SpreadElement:
			s.expr(prop.Expression)
		}
	}
}
