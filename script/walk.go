package script

import "fmt"

// Walk visits n and its descendants in source order. Children of a node
// are skipped when visit returns false. Lambda bodies are not entered.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	walkList := func(es []Expr) {
		for _, e := range es {
			Walk(e, visit)
		}
	}
	switch n := n.(type) {
	case *ConstExpr, *NameExpr, *LambdaExpr:
	case *BinaryExpr:
		Walk(n.X, visit)
		Walk(n.Y, visit)
	case *UnaryExpr:
		Walk(n.X, visit)
	case *CondExpr:
		Walk(n.Cond, visit)
		Walk(n.Then, visit)
		Walk(n.Else, visit)
	case *CallExpr:
		Walk(n.Fn, visit)
		walkList(n.Args)
	case *BuiltinExpr:
		walkList(n.Args)
	case *IndexExpr:
		Walk(n.X, visit)
		Walk(n.Index, visit)
	case *InExpr:
		Walk(n.Key, visit)
		Walk(n.X, visit)
	case *SizeExpr:
		Walk(n.X, visit)
	case *CastExpr:
		Walk(n.X, visit)
	case *CoerceExpr:
		Walk(n.X, visit)
	case *TableCtor:
		for i := range n.Keys {
			Walk(n.Keys[i], visit)
			Walk(n.Vals[i], visit)
		}
	case *VectorCtor:
		walkList(n.Elems)
	case *InlineExpr:
		walkList(n.Args)
		Walk(n.Body, visit)

	case *ExprStmt:
		Walk(n.X, visit)
	case *AssignStmt:
		Walk(n.Target, visit)
		Walk(n.Value, visit)
	case *LocalStmt:
		if n.Init != nil {
			Walk(n.Init, visit)
		}
	case *PrintStmt:
		walkList(n.Args)
	case *IfStmt:
		Walk(n.Cond, visit)
		Walk(n.Then, visit)
		if n.Else != nil {
			Walk(n.Else, visit)
		}
	case *WhileStmt:
		Walk(n.Cond, visit)
		Walk(n.Body, visit)
	case *ForStmt:
		Walk(n.Over, visit)
		Walk(n.Body, visit)
	case *SwitchStmt:
		Walk(n.X, visit)
		for _, c := range n.Cases {
			walkList(c.Labels)
			Walk(c.Body, visit)
		}
	case *ReturnStmt:
		if n.X != nil {
			Walk(n.X, visit)
		}
	case *BlockStmt:
		for _, s := range n.Stmts {
			Walk(s, visit)
		}
	case *DeleteStmt:
		Walk(n.X, visit)
		Walk(n.Index, visit)
	case *BreakStmt, *NextStmt, *FallthroughStmt, *NullStmt:
	case CompiledStmt:
	default:
		panic(fmt.Sprintf("Walk: unexpected %T", n))
	}
}
