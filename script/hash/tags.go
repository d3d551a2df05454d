package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the body serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every previously registered native body.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Node tags.
const (
	TagReservedZero byte = 0x00

	// Expressions
	TagConst   byte = 0x01
	TagLocal   byte = 0x02
	TagParam   byte = 0x03
	TagGlobal  byte = 0x04
	TagCapture byte = 0x05
	TagFuncRef byte = 0x06
	TagBinary  byte = 0x07
	TagUnary   byte = 0x08
	TagCond    byte = 0x09
	TagCall    byte = 0x0A
	TagBuiltin byte = 0x0B
	TagIndex   byte = 0x0C
	TagIn      byte = 0x0D
	TagSize    byte = 0x0E
	TagCast    byte = 0x0F
	TagCoerce  byte = 0x10
	TagTable   byte = 0x11
	TagVector  byte = 0x12
	TagLambda  byte = 0x13
	TagInline  byte = 0x14

	// Statements
	TagExprStmt    byte = 0x20
	TagAssign      byte = 0x21
	TagLocalDecl   byte = 0x22
	TagPrint       byte = 0x23
	TagIf          byte = 0x24
	TagWhile       byte = 0x25
	TagFor         byte = 0x26
	TagSwitch      byte = 0x27
	TagCase        byte = 0x28
	TagBreak       byte = 0x29
	TagNext        byte = 0x2A
	TagFallthrough byte = 0x2B
	TagReturn      byte = 0x2C
	TagBlock       byte = 0x2D
	TagDelete      byte = 0x2E
	TagNull        byte = 0x2F

	// Structure
	TagBody   byte = 0x40
	TagType   byte = 0x41
	TagAbsent byte = 0x42
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagConst, TagLocal, TagParam, TagGlobal, TagCapture, TagFuncRef,
	TagBinary, TagUnary, TagCond, TagCall, TagBuiltin, TagIndex, TagIn,
	TagSize, TagCast, TagCoerce, TagTable, TagVector, TagLambda, TagInline,
	TagExprStmt, TagAssign, TagLocalDecl, TagPrint, TagIf, TagWhile, TagFor,
	TagSwitch, TagCase, TagBreak, TagNext, TagFallthrough, TagReturn,
	TagBlock, TagDelete, TagNull,
	TagBody, TagType, TagAbsent,
}
