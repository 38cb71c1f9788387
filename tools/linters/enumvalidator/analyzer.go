// Package enumvalidator reports string literals assigned to enum-typed
// fields. Enum values must come from their declared constants so a typo
// cannot slip past the compiler.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const defaultTypes = "Platform,ApprovalStatus,AttemptState,Sentiment,SubjectKind,TaskType,PostingMode,EventKind"

var Analyzer = &analysis.Analyzer{
	Name:     "enumvalidator",
	Doc:      "reports string literals assigned to enum-typed struct fields",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

var enumTypes string

func init() {
	Analyzer.Flags.StringVar(&enumTypes, "types", defaultTypes, "comma-separated names of enum string types")
}

func run(pass *analysis.Pass) (any, error) {
	enums := make(map[string]bool)
	for _, name := range strings.Split(enumTypes, ",") {
		if name = strings.TrimSpace(name); name != "" {
			enums[name] = true
		}
	}

	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	filter := []ast.Node{(*ast.AssignStmt)(nil), (*ast.CompositeLit)(nil)}

	insp.Preorder(filter, func(n ast.Node) {
		if strings.HasSuffix(pass.Fset.Position(n.Pos()).Filename, "_test.go") {
			return
		}

		switch n := n.(type) {
		case *ast.AssignStmt:
			if len(n.Lhs) != len(n.Rhs) {
				return
			}
			for i, lhs := range n.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				check(pass, enums, sel.Sel.Name, n.Rhs[i])
			}
		case *ast.CompositeLit:
			for _, elt := range n.Elts {
				kv, ok := elt.(*ast.KeyValueExpr)
				if !ok {
					continue
				}
				key, ok := kv.Key.(*ast.Ident)
				if !ok {
					continue
				}
				check(pass, enums, key.Name, kv.Value)
			}
		}
	})
	return nil, nil
}

func check(pass *analysis.Pass, enums map[string]bool, field string, value ast.Expr) {
	lit, ok := ast.Unparen(value).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	named, ok := pass.TypesInfo.TypeOf(lit).(*types.Named)
	if !ok || !enums[named.Obj().Name()] {
		return
	}
	pass.Reportf(lit.Pos(), "enum field %s assigned string literal %s; use a %s constant",
		field, lit.Value, named.Obj().Name())
}
