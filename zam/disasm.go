package zam

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a readable listing of the body: frame layout, constants and
// instructions.
func (b *Body) Dump(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d slots, %d instructions\n", b.Name, b.FrameSize, len(b.Insts))
	for s, info := range b.Remap {
		var names []string
		for i, id := range b.Remap.Denizens(s) {
			names = append(names, fmt.Sprintf("%s@%d", id.Name, info.Starts[i]))
		}
		kind := ""
		if info.Managed {
			kind = " managed"
		}
		if len(names) == 0 {
			names = []string{"temp"}
		}
		fmt.Fprintf(&sb, "  s%d%s: %s\n", s, kind, strings.Join(names, ", "))
	}
	for i, v := range b.Consts {
		fmt.Fprintf(&sb, "  #%d = %s\n", i, v.GoString())
	}
	for pc := range b.Insts {
		fmt.Fprintf(&sb, "%4d  %s\n", pc, b.Insts[pc].String())
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
