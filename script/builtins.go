package script

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Builtin is a function implemented in Go.
type Builtin struct {
	Name     string
	Params   []*Type // nil means variadic, any argument type
	Result   *Type
	Fn       func(args []Value, loc *Location) (Value, error)
	Variadic bool
}

var builtins = map[string]*Builtin{}

func registerBuiltin(b *Builtin) { builtins[b.Name] = b }

// LookupBuiltin returns the named builtin, or nil.
func LookupBuiltin(name string) *Builtin { return builtins[name] }

// Builtins returns all builtins sorted by name.
func Builtins() []*Builtin {
	out := make([]*Builtin, 0, len(builtins))
	for _, b := range builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func init() {
	registerBuiltin(&Builtin{
		Name:     "cat",
		Variadic: true,
		Result:   StringType,
		Fn: func(args []Value, _ *Location) (Value, error) {
			var sb strings.Builder
			for _, a := range args {
				sb.WriteString(a.String())
			}
			return MakeString(sb.String()), nil
		},
	})
	registerBuiltin(&Builtin{
		Name:   "to_int",
		Params: []*Type{StringType},
		Result: IntType,
		Fn: func(args []Value, loc *Location) (Value, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(args[0].Str()), 10, 64)
			if err != nil {
				return Void, Errorf(KindConversion, loc, "bad conversion to int: %q", args[0].Str())
			}
			return MakeInt(n), nil
		},
	})
	registerBuiltin(&Builtin{
		Name:   "to_count",
		Params: []*Type{StringType},
		Result: CountType,
		Fn: func(args []Value, loc *Location) (Value, error) {
			n, err := strconv.ParseUint(strings.TrimSpace(args[0].Str()), 10, 64)
			if err != nil {
				return Void, Errorf(KindConversion, loc, "bad conversion to count: %q", args[0].Str())
			}
			return MakeCount(n), nil
		},
	})
	registerBuiltin(&Builtin{
		Name:   "to_double",
		Params: []*Type{StringType},
		Result: DoubleType,
		Fn: func(args []Value, loc *Location) (Value, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(args[0].Str()), 64)
			if err != nil {
				return Void, Errorf(KindConversion, loc, "bad conversion to double: %q", args[0].Str())
			}
			return MakeDouble(f), nil
		},
	})
	registerBuiltin(&Builtin{
		Name:   "fmt_double",
		Params: []*Type{DoubleType, CountType},
		Result: StringType,
		Fn: func(args []Value, _ *Location) (Value, error) {
			return MakeString(strconv.FormatFloat(args[0].Double(), 'f', int(args[1].Count()), 64)), nil
		},
	})
	registerBuiltin(&Builtin{
		Name:   "abs",
		Params: []*Type{DoubleType},
		Result: DoubleType,
		Fn: func(args []Value, _ *Location) (Value, error) {
			return MakeDouble(math.Abs(args[0].Double())), nil
		},
	})
}

// CallBuiltin checks arity and runs b.
func CallBuiltin(b *Builtin, args []Value, loc *Location) (Value, error) {
	if !b.Variadic && len(args) != len(b.Params) {
		return Void, Errorf(KindCall, loc, "%s expects %d arguments, got %d", b.Name, len(b.Params), len(args))
	}
	for i, p := range b.Params {
		args[i] = Coerce(args[i], p)
	}
	return b.Fn(args, loc)
}
