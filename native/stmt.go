package native

import (
	"errors"

	"github.com/reyesj2/zeek/script"
)

// Stmt runs a CompiledScript in place of a script body.
type Stmt struct {
	script.CompiledNode
	Script *CompiledScript
}

// NewStmt wraps cs; loc is reported for failures that carry no location
// of their own.
func NewStmt(cs *CompiledScript, loc *script.Location) *Stmt {
	s := &Stmt{Script: cs}
	s.L = loc
	return s
}

// Exec implements script.CompiledStmt.
func (s *Stmt) Exec(f *script.Frame) (script.Value, script.Flow, error) {
	v, flow, err := s.Script.Body(f)
	if err != nil {
		var rerr *script.RuntimeError
		if !errors.As(err, &rerr) {
			return script.Void, script.FlowNext, &script.RuntimeError{
				Kind: script.KindCall,
				Loc:  s.L,
				Msg:  s.Script.Name + ": " + err.Error(),
				Err:  err,
			}
		}
		return script.Void, script.FlowNext, err
	}
	return v, flow, nil
}
