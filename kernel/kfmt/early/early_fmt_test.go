package early

import (
	"testing"

	"github.com/rv64boot/kernel/kernel/console"
)

func TestPrintf(t *testing.T) {
	orig := console.Active
	defer func() { console.Active = orig }()

	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no verbs here", nil, "no verbs here"},
		{"%s", []interface{}{"hi"}, "hi"},
		{"%5s", []interface{}{"hi"}, "   hi"},
		{"%d", []interface{}{42}, "42"},
		{"%d", []interface{}{-42}, "-42"},
		{"%4d", []interface{}{-1}, "  -1"},
		{"%o", []interface{}{8}, "10"},
		{"%x", []interface{}{255}, "0xff"},
		{"%t", []interface{}{true}, "true"},
		{"%t", []interface{}{false}, "false"},
		{"%%", nil, "%"},
		{"%s", nil, string(errMissingArg)},
		{"%d", []interface{}{"bad"}, string(errWrongArgType)},
		{"%s %s", []interface{}{"a", "b", "c"}, "a " + "b" + string(errExtraArg)},
	}

	for _, spec := range specs {
		mem := &console.MemWriter{}
		console.Active = mem

		Printf(spec.format, spec.args...)

		if got := mem.String(); got != spec.exp {
			t.Errorf("format %q: expected %q; got %q", spec.format, spec.exp, got)
		}
	}
}

func TestPrintfHexFormat(t *testing.T) {
	orig := console.Active
	defer func() { console.Active = orig }()

	mem := &console.MemWriter{}
	console.Active = mem

	Printf("%x", 255)

	if got, exp := mem.String(), "0xff"; got != exp {
		t.Errorf("expected %q; got %q", exp, got)
	}
}
