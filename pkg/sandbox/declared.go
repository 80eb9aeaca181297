package sandbox

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/unistring"
)

// readerParam is the wrapper parameter that receives the declaration reader.
const readerParam = "__declared"

// declaredNames parses code the way Run executes it and returns the names bound by its
// top-level var, let and const statements, in source order. Functions and classes are
// left out.
func declaredNames(code string) ([]string, error) {
	prog, err := parser.ParseFile(nil, programName, wrap(code, nil), 0)
	if err != nil {
		return nil, err //nolint:wrapcheck // surfaced as an InvalidCodeError
	}

	var (
		names []string
		seen  = make(map[unistring.String]bool)
	)
	add := func(id *ast.Identifier) {
		if id == nil || seen[id.Name] || id.Name == readerParam {
			return
		}
		seen[id.Name] = true
		names = append(names, id.Name.String())
	}

	for _, st := range snippetBody(prog) {
		switch s := st.(type) {
		case *ast.VariableStatement:
			for _, b := range s.List {
				bindingNames(b.Target, add)
			}
		case *ast.LexicalDeclaration:
			for _, b := range s.List {
				bindingNames(b.Target, add)
			}
		}
	}
	return names, nil
}

// snippetBody returns the statements of the wrapper function.
func snippetBody(prog *ast.Program) []ast.Statement {
	if len(prog.Body) == 0 {
		return nil
	}
	es, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil
	}
	fn, ok := es.Expression.(*ast.FunctionLiteral)
	if !ok || fn.Body == nil {
		return nil
	}
	return fn.Body.List
}

// bindingNames walks a binding target, including destructuring patterns and defaults.
func bindingNames(target ast.Expression, add func(*ast.Identifier)) {
	switch t := target.(type) {
	case *ast.Identifier:
		add(t)
	case *ast.AssignExpression:
		bindingNames(t.Left, add)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if el != nil {
				bindingNames(el, add)
			}
		}
		if t.Rest != nil {
			bindingNames(t.Rest, add)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch prop := p.(type) {
			case *ast.PropertyShort:
				add(&prop.Name)
			case *ast.PropertyKeyed:
				bindingNames(prop.Value, add)
			}
		}
		if t.Rest != nil {
			bindingNames(t.Rest, add)
		}
	}
}
