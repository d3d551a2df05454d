package zam

import "fmt"

// Op is a ZAM instruction opcode.
// Opcodes are grouped by category; the numbering is internal and may change.
type Op uint8

const (
	// ========================================================================
	// Data movement
	// ========================================================================

	OpNop          Op = iota // no operation
	OpConst                  // A = consts[V]
	OpMove                   // A = B
	OpZero                   // A = zero value of T
	OpLoadGlobal             // A = globals[V]
	OpStoreGlobal            // globals[V] = B
	OpLoadCapture            // A = captures[V]
	OpStoreCapture           // captures[V] = B
	OpLoadFunc               // A = function value funcs[V]
	OpCoerce                 // A = B converted to numeric T
	OpCheckAny               // A = B, which must hold a value of type T

	// ========================================================================
	// Arithmetic, type-specialized (I int, U count, D double, S string)
	// ========================================================================

	OpAddI // A = B + C
	OpAddU
	OpAddD
	OpAddS
	OpSubI // A = B - C
	OpSubU
	OpSubD
	OpMulI // A = B * C
	OpMulU
	OpMulD
	OpDivI // A = B / C
	OpDivU
	OpDivD
	OpModI // A = B % C
	OpModU
	OpModD
	OpNeg  // A = -B
	OpNot  // A = !B
	OpCmp  // A = B <V> C, V a script.BinOp comparison

	// ========================================================================
	// Containers
	// ========================================================================

	OpSize        // A = |B|
	OpIndex       // A = B[C]
	OpIndexAssign // A[B] = C
	OpDelete      // delete A[B]
	OpIn          // A = B in C
	OpTableCtor   // A = table of T from Aux pairs (k0, v0, k1, v1, ...)
	OpVectorCtor  // A = vector of T from Aux

	// ========================================================================
	// Control flow
	// ========================================================================

	OpGoto          // goto C
	OpIfFalse       // if !B goto C
	OpIfTrue        // if B goto C
	OpSwitchI       // goto intCases[V][B], default C
	OpSwitchU       // goto uintCases[V][B], default C
	OpSwitchD       // goto doubleCases[V][B], default C
	OpSwitchS       // goto stringCases[V][B], default C
	OpReturn        // return B (-1: no value)
	OpHookBreak     // end a hook body with break
	OpMissingReturn // error: consts[V] did not return a value, unless B holds one

	// ========================================================================
	// Iteration
	// ========================================================================

	OpInitTableLoop  // tableIters[V] = cursor over table B
	OpNextTableIter  // A = key, B = value (-1: none) from tableIters[V]; when done goto C
	OpEndTableLoop   // release tableIters[V]
	OpInitVectorLoop // stepIters[V] = 0..|B|
	OpNextVectorIter // A = index, Aux[0] = element of vector B via stepIters[V]; when done goto C
	OpEndVectorLoop  // release stepIters[V]

	// ========================================================================
	// Calls and side effects
	// ========================================================================

	OpCall         // A = funcs[V](Aux...) (A = -1 discards)
	OpCallIndirect // A = B(Aux...)
	OpCallBuiltin  // A = builtins[V](Aux...)
	OpPrint        // print Aux

	numOps
)

// operand describes how an instruction field is interpreted.
type operand uint8

const (
	opNone      operand = iota
	opSlot              // frame slot, must be < frame size
	opSlotOpt           // frame slot or -1
	opTarget            // instruction index
	opConst             // consts index
	opGlobal            // globals index
	opCapture           // capture index (checked at run time)
	opFunc              // funcs index
	opBuiltin           // builtins index
	opTableIter         // table iterator pool index
	opStepIter          // step iterator index
	opCaseI             // intCases index
	opCaseU             // uintCases index
	opCaseD             // doubleCases index
	opCaseS             // stringCases index
	opCompare           // script.BinOp
)

// OpInfo is the static description of an opcode.
type OpInfo struct {
	Name       string
	A, B, C, V operand
	Aux        bool // Aux holds slots
}

var opTable = [numOps]OpInfo{
	OpNop:          {Name: "nop"},
	OpConst:        {Name: "const", A: opSlot, V: opConst},
	OpMove:         {Name: "move", A: opSlot, B: opSlot},
	OpZero:         {Name: "zero", A: opSlot},
	OpLoadGlobal:   {Name: "load-global", A: opSlot, V: opGlobal},
	OpStoreGlobal:  {Name: "store-global", B: opSlot, V: opGlobal},
	OpLoadCapture:  {Name: "load-capture", A: opSlot, V: opCapture},
	OpStoreCapture: {Name: "store-capture", B: opSlot, V: opCapture},
	OpLoadFunc:     {Name: "load-func", A: opSlot, V: opFunc},
	OpCoerce:       {Name: "coerce", A: opSlot, B: opSlot},
	OpCheckAny:     {Name: "check-any", A: opSlot, B: opSlot},

	OpAddI: {Name: "add-i", A: opSlot, B: opSlot, C: opSlot},
	OpAddU: {Name: "add-u", A: opSlot, B: opSlot, C: opSlot},
	OpAddD: {Name: "add-d", A: opSlot, B: opSlot, C: opSlot},
	OpAddS: {Name: "add-s", A: opSlot, B: opSlot, C: opSlot},
	OpSubI: {Name: "sub-i", A: opSlot, B: opSlot, C: opSlot},
	OpSubU: {Name: "sub-u", A: opSlot, B: opSlot, C: opSlot},
	OpSubD: {Name: "sub-d", A: opSlot, B: opSlot, C: opSlot},
	OpMulI: {Name: "mul-i", A: opSlot, B: opSlot, C: opSlot},
	OpMulU: {Name: "mul-u", A: opSlot, B: opSlot, C: opSlot},
	OpMulD: {Name: "mul-d", A: opSlot, B: opSlot, C: opSlot},
	OpDivI: {Name: "div-i", A: opSlot, B: opSlot, C: opSlot},
	OpDivU: {Name: "div-u", A: opSlot, B: opSlot, C: opSlot},
	OpDivD: {Name: "div-d", A: opSlot, B: opSlot, C: opSlot},
	OpModI: {Name: "mod-i", A: opSlot, B: opSlot, C: opSlot},
	OpModU: {Name: "mod-u", A: opSlot, B: opSlot, C: opSlot},
	OpModD: {Name: "mod-d", A: opSlot, B: opSlot, C: opSlot},
	OpNeg:  {Name: "neg", A: opSlot, B: opSlot},
	OpNot:  {Name: "not", A: opSlot, B: opSlot},
	OpCmp:  {Name: "cmp", A: opSlot, B: opSlot, C: opSlot, V: opCompare},

	OpSize:        {Name: "size", A: opSlot, B: opSlot},
	OpIndex:       {Name: "index", A: opSlot, B: opSlot, C: opSlot},
	OpIndexAssign: {Name: "index-assign", A: opSlot, B: opSlot, C: opSlot},
	OpDelete:      {Name: "delete", A: opSlot, B: opSlot},
	OpIn:          {Name: "in", A: opSlot, B: opSlot, C: opSlot},
	OpTableCtor:   {Name: "table", A: opSlot, Aux: true},
	OpVectorCtor:  {Name: "vector", A: opSlot, Aux: true},

	OpGoto:          {Name: "goto", C: opTarget},
	OpIfFalse:       {Name: "if-false", B: opSlot, C: opTarget},
	OpIfTrue:        {Name: "if-true", B: opSlot, C: opTarget},
	OpSwitchI:       {Name: "switch-i", B: opSlot, C: opTarget, V: opCaseI},
	OpSwitchU:       {Name: "switch-u", B: opSlot, C: opTarget, V: opCaseU},
	OpSwitchD:       {Name: "switch-d", B: opSlot, C: opTarget, V: opCaseD},
	OpSwitchS:       {Name: "switch-s", B: opSlot, C: opTarget, V: opCaseS},
	OpReturn:        {Name: "return", B: opSlotOpt},
	OpHookBreak:     {Name: "hook-break"},
	OpMissingReturn: {Name: "missing-return", B: opSlotOpt, V: opConst},

	OpInitTableLoop:  {Name: "init-table-loop", B: opSlot, V: opTableIter},
	OpNextTableIter:  {Name: "next-table-iter", A: opSlot, B: opSlotOpt, C: opTarget, V: opTableIter},
	OpEndTableLoop:   {Name: "end-table-loop", V: opTableIter},
	OpInitVectorLoop: {Name: "init-vector-loop", B: opSlot, V: opStepIter},
	OpNextVectorIter: {Name: "next-vector-iter", A: opSlot, B: opSlot, C: opTarget, V: opStepIter, Aux: true},
	OpEndVectorLoop:  {Name: "end-vector-loop", V: opStepIter},

	OpCall:         {Name: "call", A: opSlotOpt, V: opFunc, Aux: true},
	OpCallIndirect: {Name: "call-indirect", A: opSlotOpt, B: opSlot, Aux: true},
	OpCallBuiltin:  {Name: "call-builtin", A: opSlotOpt, V: opBuiltin, Aux: true},
	OpPrint:        {Name: "print", Aux: true},
}

// Info returns the static description of op.
func (op Op) Info() OpInfo {
	if op < numOps {
		return opTable[op]
	}
	return OpInfo{Name: fmt.Sprintf("op%d", uint8(op))}
}

func (op Op) String() string { return op.Info().Name }

// IsJump reports whether op may transfer control to its C operand.
func (op Op) IsJump() bool { return op.Info().C == opTarget }
