package nhs

import (
	"fmt"
	"testing"
)

func TestIsValidNumber(t *testing.T) {
	cases := map[string]bool{
		"9999999999":  true,
		"2478684691":  true,
		"9728002432":  true,
		"9999999993":  false,
		"247868469":   false,
		"1234":        false,
		"":            false,
		"24786846910": false,
		"24786846a1":  false,
		"247868469X":  false,
	}
	for in, want := range cases {
		if got := IsValidNumber(in); got != want {
			t.Errorf("IsValidNumber(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestIsValidNumber_CheckDigitTen(t *testing.T) {
	// Find a prefix whose check digit computes to 10 and confirm every final
	// digit is rejected.
	for prefix := 100000000; prefix < 100000100; prefix++ {
		p := fmt.Sprintf("%09d", prefix)
		sum := 0
		for i := 0; i < 9; i++ {
			sum += (10 - i) * int(p[i]-'0')
		}
		if 11-sum%11 != 10 {
			continue
		}
		for d := 0; d <= 9; d++ {
			s := fmt.Sprintf("%s%d", p, d)
			if IsValidNumber(s) {
				t.Errorf("expected %s to be invalid: check digit computes to 10", s)
			}
		}
		return
	}
	t.Fatal("no prefix with check digit 10 found in range")
}

func TestIsValidNumber_LengthProperty(t *testing.T) {
	for n := 0; n < 20; n++ {
		if n == NumberLength {
			continue
		}
		s := ""
		for i := 0; i < n; i++ {
			s += "9"
		}
		if IsValidNumber(s) {
			t.Errorf("expected length %d to be invalid", n)
		}
	}
}

func TestPseudoID(t *testing.T) {
	got, err := PseudoID("9728002432", "1958-06-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "3c8dc4bb3c6b63269c7b91e09cabe3db162d03eb3559568e2cbade6a41290ccef1605d103eb74915fb2474bf698ddcd6835f004b843bc93ec80dc14337df18a0"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
