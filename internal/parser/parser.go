package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"

	"github.com/clarsbyte/washedmcp/pkg/types"
)

// Parser handles AST-based extraction of entities from Go source files
type Parser struct {
	fset *token.FileSet
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		fset: token.NewFileSet(),
	}
}

// ParseFile parses a Go source file and extracts its entities. A file that
// fails to parse returns an error; callers treat that as a per-file skip,
// never a fatal condition.
func (p *Parser) ParseFile(filePath string) ([]types.Entity, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	file, err := parser.ParseFile(p.fset, filePath, content, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}

	extractor := &entityExtractor{
		fset:     p.fset,
		src:      content,
		filePath: filePath,
		entities: make([]types.Entity, 0),
	}
	ast.Inspect(file, extractor.visit)

	for i := range extractor.entities {
		extractor.entities[i].Normalize()
	}
	return extractor.entities, nil
}

// entityExtractor is a visitor for AST traversal that collects entities
type entityExtractor struct {
	fset     *token.FileSet
	src      []byte
	filePath string
	entities []types.Entity
}

func (e *entityExtractor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		e.extractFunction(n)
		// Function bodies are walked for calls separately; no nested decls
		// of interest below this node.
		return false
	case *ast.GenDecl:
		e.extractGenDecl(n)
	}

	return true
}

// extractFunction extracts a function or method declaration together with
// the names it calls
func (e *entityExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	ent := types.Entity{
		Name:      funcDecl.Name.Name,
		Kind:      types.KindFunction,
		Code:      e.sourceText(funcDecl.Pos(), funcDecl.End()),
		FilePath:  e.filePath,
		LineStart: e.line(funcDecl.Pos()),
		LineEnd:   e.line(funcDecl.End()),
		Language:  "go",
		Exported:  token.IsExported(funcDecl.Name.Name),
		Calls:     extractCalls(funcDecl.Body),
	}
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		ent.Kind = types.KindMethod
	}
	e.entities = append(e.entities, ent)
}

// extractGenDecl extracts struct, interface, and named type declarations
func (e *entityExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	if genDecl.Tok != token.TYPE {
		return
	}
	for _, spec := range genDecl.Specs {
		typeSpec, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		kind := types.KindType
		switch typeSpec.Type.(type) {
		case *ast.StructType:
			kind = types.KindStruct
		case *ast.InterfaceType:
			kind = types.KindInterface
		}
		e.entities = append(e.entities, types.Entity{
			Name:      typeSpec.Name.Name,
			Kind:      kind,
			Code:      e.sourceText(genDecl.Pos(), genDecl.End()),
			FilePath:  e.filePath,
			LineStart: e.line(genDecl.Pos()),
			LineEnd:   e.line(genDecl.End()),
			Language:  "go",
			Exported:  token.IsExported(typeSpec.Name.Name),
		})
	}
}

// sourceText returns the exact source between two token positions
func (e *entityExtractor) sourceText(start, end token.Pos) string {
	startOff := e.fset.Position(start).Offset
	endOff := e.fset.Position(end).Offset
	if startOff < 0 || endOff > len(e.src) || startOff > endOff {
		return ""
	}
	return string(e.src[startOff:endOff])
}

func (e *entityExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// extractCalls collects the simple call targets in a function body: plain
// identifiers and the method name of selector calls, in first-appearance
// order with duplicates removed.
func extractCalls(body *ast.BlockStmt) []string {
	if body == nil {
		return []string{}
	}
	calls := []string{}
	seen := make(map[string]bool)
	ast.Inspect(body, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := callTargetName(call.Fun)
		if name != "" && !seen[name] {
			seen[name] = true
			calls = append(calls, name)
		}
		return true
	})
	return calls
}

// callTargetName resolves the bare name a call expression targets
func callTargetName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.IndexExpr:
		// Generic instantiation: f[T](...)
		return callTargetName(f.X)
	case *ast.IndexListExpr:
		return callTargetName(f.X)
	}
	return ""
}
