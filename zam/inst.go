package zam

import (
	"fmt"
	"strings"

	"github.com/reyesj2/zeek/script"
)

// Inst is one ZAM instruction. Operand fields are interpreted according
// to the opcode's OpInfo; every slot reference is resolved at compile
// time.
type Inst struct {
	Op   Op
	A    int32
	B    int32
	C    int32
	V    int32
	Aux  []int32
	T    *script.Type
	Loc  *script.Location
	Line int // source line, for profiles and disassembly
}

func (in *Inst) String() string {
	info := in.Op.Info()
	var parts []string
	add := func(name string, kind operand, v int32) {
		switch kind {
		case opNone:
		case opSlot:
			parts = append(parts, fmt.Sprintf("%s=s%d", name, v))
		case opSlotOpt:
			if v < 0 {
				parts = append(parts, name+"=-")
			} else {
				parts = append(parts, fmt.Sprintf("%s=s%d", name, v))
			}
		case opTarget:
			parts = append(parts, fmt.Sprintf("->%d", v))
		case opCompare:
			parts = append(parts, script.BinOp(v).String())
		default:
			parts = append(parts, fmt.Sprintf("%s=#%d", name, v))
		}
	}
	add("A", info.A, in.A)
	add("B", info.B, in.B)
	add("V", info.V, in.V)
	add("C", info.C, in.C)
	if info.Aux {
		aux := make([]string, len(in.Aux))
		for i, s := range in.Aux {
			aux[i] = fmt.Sprintf("s%d", s)
		}
		parts = append(parts, "("+strings.Join(aux, ", ")+")")
	}
	if in.T != nil {
		parts = append(parts, in.T.String())
	}
	return strings.TrimSpace(info.Name + " " + strings.Join(parts, " "))
}
