package rws

import (
	"math"
	"testing"
)

func TestParseNumericArray(t *testing.T) {
	cases := []struct {
		in   string
		want []float64
	}{
		{"[1,2,3]", []float64{1, 2, 3}},
		{"[]", []float64{}},
		{"[-1.5, 2.25]", []float64{-1.5, 2.25}},
	}
	for _, c := range cases {
		got, err := ParseNumericArray(c.in)
		if err != nil {
			t.Fatalf("ParseNumericArray(%q): %v", c.in, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("ParseNumericArray(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Errorf("ParseNumericArray(%q)[%d] = %v, want %v", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestParseNumericArray_RejectsMissingBrackets(t *testing.T) {
	if _, err := ParseNumericArray("1,2,3"); err == nil {
		t.Error("expected error for missing brackets")
	}
}

func TestParseJointTargetText_DecodesDegreesToRadians(t *testing.T) {
	jt, err := ParseJointTargetText("[[10,20,30,40,50,60],[0,0,0,0,0,0]]")
	if err != nil {
		t.Fatalf("ParseJointTargetText: %v", err)
	}
	want := []float64{
		10 * math.Pi / 180, 20 * math.Pi / 180, 30 * math.Pi / 180,
		40 * math.Pi / 180, 50 * math.Pi / 180, 60 * math.Pi / 180,
	}
	if len(jt.RobAx) != 6 {
		t.Fatalf("robax len = %d, want 6", len(jt.RobAx))
	}
	for i := range want {
		if diff := jt.RobAx[i] - want[i]; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("robax[%d] = %v, want %v", i, jt.RobAx[i], want[i])
		}
	}
	if jt.ExtAx != nil {
		t.Errorf("extax = %v, want nil for all-zero external axes", jt.ExtAx)
	}
}

func TestJointTargetRoundTrip_WithinTolerance(t *testing.T) {
	original := JointTarget{RobAx: []float64{0.1, -0.2, 1.5, 0, 3.1, -1.0}}
	text := EncodeJointTargetText(original)
	decoded, err := ParseJointTargetText(text)
	if err != nil {
		t.Fatalf("ParseJointTargetText(%q): %v", text, err)
	}
	for i := range original.RobAx {
		if diff := decoded.RobAx[i] - original.RobAx[i]; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("robax[%d] round-trip = %v, want %v", i, decoded.RobAx[i], original.RobAx[i])
		}
	}
}

func TestParseJointTargetArrayText_EmptyArray(t *testing.T) {
	got, err := ParseJointTargetArrayText("[]")
	if err != nil {
		t.Fatalf("ParseJointTargetArrayText: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for empty array", got)
	}
}

func TestParseJointTargetArrayText_MultipleTargets(t *testing.T) {
	text := "[[[10,20,30,40,50,60],[0,0,0,0,0,0]],[[11,21,31,41,51,61],[1,1,1,1,1,1]]]"
	got, err := ParseJointTargetArrayText(text)
	if err != nil {
		t.Fatalf("ParseJointTargetArrayText(%q): %v", text, err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d targets, want 2", len(got))
	}
	if got[1].ExtAx == nil {
		t.Error("second target's extax should be non-nil")
	}
}
