package jsonx

import (
	"testing"

	"github.com/eliochat/eliocore/internal/arena"
)

func parseString(t *testing.T, s string) *Value {
	t.Helper()
	v, err := Parse(arena.New(), []byte(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestParsePrimitives(t *testing.T) {
	cases := map[string]Kind{
		`null`:  KindNull,
		`true`:  KindBool,
		`false`: KindBool,
		`42`:    KindInt,
		`-7`:    KindInt,
		`3.14`:  KindFloat,
		`1e10`:  KindFloat,
		`"hi"`:  KindString,
	}
	for lit, want := range cases {
		v := parseString(t, lit)
		if v.Kind() != want {
			t.Errorf("%q: got kind %v, want %v", lit, v.Kind(), want)
		}
	}
}

func TestParseObjectOrderAndDuplicateKeys(t *testing.T) {
	v := parseString(t, `{"a":1,"b":2,"a":3}`)
	keys := v.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected duplicate key to update in place, got keys %v", keys)
	}
	a, _ := v.Get("a")
	if a.Int() != 3 {
		t.Fatalf("expected updated value 3, got %d", a.Int())
	}
}

func TestParseArray(t *testing.T) {
	v := parseString(t, `[1, 2, 3]`)
	if v.Len() != 3 || v.At(1).Int() != 2 {
		t.Fatalf("unexpected array parse: %v", v)
	}
}

func TestParseTrailingContentError(t *testing.T) {
	_, err := Parse(arena.New(), []byte(`{} garbage`))
	if err == nil {
		t.Fatal("expected an error for trailing content")
	}
	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if perr.Offset == 0 {
		t.Fatal("expected a non-zero byte offset")
	}
}

func TestParseSerializeRoundTripStructural(t *testing.T) {
	src := `{"name":"lookup","arguments":{"q":"x","n":3,"pi":3.5,"ok":true,"list":[1,2]}}`
	v := parseString(t, src)
	out := Marshal(v)
	v2 := parseString(t, out)
	args1, _ := v.Get("arguments")
	args2, _ := v2.Get("arguments")
	q1, _ := args1.Get("q")
	q2, _ := args2.Get("q")
	if q1.Str() != q2.Str() {
		t.Fatalf("round trip mismatch: %q vs %q", q1.Str(), q2.Str())
	}
	n1, _ := args1.Get("n")
	n2, _ := args2.Get("n")
	if n1.Kind() != KindInt || n2.Kind() != KindInt || n1.Int() != n2.Int() {
		t.Fatalf("integer-ness not preserved across round trip")
	}
	pi1, _ := args1.Get("pi")
	pi2, _ := args2.Get("pi")
	if pi1.Kind() != KindFloat || pi2.Kind() != KindFloat {
		t.Fatalf("float-ness not preserved across round trip")
	}
}

func TestSurrogateEscapeLeftLiteral(t *testing.T) {
	v := parseString(t, `"\ud800"`)
	if v.Str() != `\ud800` {
		t.Fatalf("expected lone surrogate left as literal escape text, got %q", v.Str())
	}
}

func TestUnescapedStringIsZeroCopyView(t *testing.T) {
	a := arena.New()
	before := a.Used()
	data := []byte(`"no escapes here"`)
	v, err := Parse(a, data)
	if err != nil {
		t.Fatal(err)
	}
	if a.Used() != before {
		t.Fatalf("expected no arena allocation on the escape-free path, used grew from %d to %d", before, a.Used())
	}
	if v.Str() != "no escapes here" {
		t.Fatalf("got %q", v.Str())
	}
}

func TestWholeNumberFloatSerializesWithoutDecimalPoint(t *testing.T) {
	out := Marshal(Float(4.0))
	if out != "4" {
		t.Fatalf("expected \"4\", got %q", out)
	}
}

func TestPrettyPrintIndent(t *testing.T) {
	v := parseString(t, `{"a":1}`)
	out := MarshalIndent(v)
	want := "{\n  \"a\": 1\n}"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}
