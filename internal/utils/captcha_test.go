package utils

import (
	"bytes"
	"strings"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestGenerateCaptcha(t *testing.T) {
	c, err := GenerateCaptcha()
	if err != nil {
		t.Fatalf("GenerateCaptcha: %v", err)
	}

	if len(c.Code) != captchaLength {
		t.Errorf("code length = %d, want %d", len(c.Code), captchaLength)
	}
	for _, ch := range c.Code {
		if !strings.ContainsRune(captchaCharset, ch) {
			t.Errorf("code contains %q, not in charset", ch)
		}
	}

	if !bytes.HasPrefix(c.Image, pngMagic) {
		t.Error("image is not a PNG")
	}
}

func TestGenerateCaptcha_CodesVary(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		c, err := GenerateCaptcha()
		if err != nil {
			t.Fatalf("GenerateCaptcha: %v", err)
		}
		seen[c.Code] = true
	}
	// 5 identical 6-char draws from a 32-char set means a broken RNG
	if len(seen) < 2 {
		t.Errorf("expected varied codes, got %d distinct", len(seen))
	}
}
