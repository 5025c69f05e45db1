package descriptor

import (
	"errors"
	"testing"
)

func TestParseFieldRoundTrip(t *testing.T) {
	cases := []string{"B", "C", "D", "F", "I", "J", "S", "Z", "Ljava/lang/String;", "[I", "[[[I", "[Ljava/lang/Object;"}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			d, err := ParseField(s)
			if err != nil {
				t.Fatalf("ParseField(%q): %v", s, err)
			}
			if got := d.Format(); got != s {
				t.Errorf("round trip: got %q, want %q", got, s)
			}
		})
	}
}

func TestParseFieldWordSize(t *testing.T) {
	cases := map[string]int{
		"I": 1, "Z": 1, "B": 1, "C": 1, "S": 1, "F": 1,
		"Ljava/lang/Object;": 1, "[I": 1,
		"J": 2, "D": 2,
	}
	for s, want := range cases {
		t.Run(s, func(t *testing.T) {
			d, err := ParseField(s)
			if err != nil {
				t.Fatalf("ParseField(%q): %v", s, err)
			}
			if got := d.WordSize(); got != want {
				t.Errorf("WordSize(%q): got %d, want %d", s, got, want)
			}
			if want == 2 && d.SimpleType() != Long && d.SimpleType() != Double {
				t.Errorf("WordSize 2 but SimpleType is %v", d.SimpleType())
			}
		})
	}
}

func TestParseFieldMalformed(t *testing.T) {
	cases := []string{"", "Q", "I garbage", "Ljava/lang/String", "["}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			if _, err := ParseField(s); !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseField(%q): got %v, want ErrMalformed", s, err)
			}
		})
	}
}

func TestArraySimpleType(t *testing.T) {
	d, err := ParseField("[[D")
	if err != nil {
		t.Fatal(err)
	}
	if d.SimpleType() != Reference {
		t.Errorf("array SimpleType: got %v, want Reference", d.SimpleType())
	}
	elem := d.RemoveArray()
	if elem.SimpleType() != Reference {
		t.Errorf("[D SimpleType: got %v, want Reference", elem.SimpleType())
	}
	inner := elem.RemoveArray()
	if inner.SimpleType() != Double {
		t.Errorf("D SimpleType: got %v, want Double", inner.SimpleType())
	}
}

func TestAddRemoveArrayRoundTrip(t *testing.T) {
	d, _ := ParseField("I")
	arr := d.AddArray()
	if arr.Format() != "[I" {
		t.Errorf("AddArray: got %q, want %q", arr.Format(), "[I")
	}
	back := arr.RemoveArray()
	if back != d {
		t.Errorf("AddArray then RemoveArray: got %+v, want %+v", back, d)
	}
}

func TestFromSymbolicReference(t *testing.T) {
	t.Run("raw class name", func(t *testing.T) {
		d, err := FromSymbolicReference("java/lang/Object")
		if err != nil {
			t.Fatal(err)
		}
		if d.IsArray() || d.Base != Reference || d.ClassName != "java/lang/Object" {
			t.Errorf("got %+v", d)
		}
	})
	t.Run("array descriptor", func(t *testing.T) {
		d, err := FromSymbolicReference("[Ljava/lang/String;")
		if err != nil {
			t.Fatal(err)
		}
		if !d.IsArray() || d.ArrayDepth != 1 {
			t.Errorf("got %+v", d)
		}
	})
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("(ILjava/lang/String;[D)J")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Params) != 3 {
		t.Fatalf("params: got %d, want 3", len(m.Params))
	}
	if m.Params[0].SimpleType() != Int {
		t.Errorf("param0: got %v, want Int", m.Params[0].SimpleType())
	}
	if m.Params[1].Base != Reference || m.Params[1].ClassName != "java/lang/String" {
		t.Errorf("param1: got %+v", m.Params[1])
	}
	if !m.Params[2].IsArray() {
		t.Errorf("param2: want array")
	}
	if m.IsVoid() {
		t.Errorf("IsVoid: got true, want false")
	}
	if m.Ret.SimpleType() != Long {
		t.Errorf("ret: got %v, want Long", m.Ret.SimpleType())
	}
	if want := 1 + 1 + 1; m.WordsForParams() != want {
		t.Errorf("WordsForParams: got %d, want %d", m.WordsForParams(), want)
	}
}

func TestParseMethodVoid(t *testing.T) {
	m, err := ParseMethod("([Ljava/lang/String;)V")
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsVoid() {
		t.Errorf("IsVoid: got false, want true")
	}
	if want := 1; m.WordsForParams() != want {
		t.Errorf("WordsForParams: got %d, want %d", m.WordsForParams(), want)
	}
}

func TestParseMethodWideParams(t *testing.T) {
	m, err := ParseMethod("(JD)I")
	if err != nil {
		t.Fatal(err)
	}
	if want := 4; m.WordsForParams() != want {
		t.Errorf("WordsForParams: got %d, want %d", m.WordsForParams(), want)
	}
}

func TestParseMethodMalformed(t *testing.T) {
	cases := []string{"", "IV", "(I", "(I)Q"}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			if _, err := ParseMethod(s); !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseMethod(%q): got %v, want ErrMalformed", s, err)
			}
		})
	}
}
