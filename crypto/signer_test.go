package crypto

import (
	"errors"
	"regexp"
	"testing"
)

const (
	testBundle   = "APIKEY-04YW0b9Cb8S0MrgBw/Y4iPYi2hjIidW7qj4hrhBhwZg="
	testHostname = "https://www.algolab.com.tr"
)

var hexRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	cred, err := ParseCredential(testBundle)
	if err != nil {
		t.Fatalf("ParseCredential failed: %v", err)
	}
	t.Cleanup(cred.Destroy)
	return NewSigner(cred, testHostname)
}

func TestChecker_Golden(t *testing.T) {
	s := newTestSigner(t)

	tests := []struct {
		name     string
		endpoint string
		body     Body
		want     string
	}{
		{
			name:     "Portfolio",
			endpoint: "/api/Portfolio",
			body:     Body{{"Subaccount", ""}},
			want:     "fde39070c9cb7e058fd66ed0367dddef5c499a77ce29aa1d53929e52b5908ab1",
		},
		{
			name:     "EmptyBody",
			endpoint: "/api/SessionRefresh",
			body:     Body{},
			want:     "ee1f55aa6d4903ac2d7b3b53a89e20c096bc0e3e6ed757f82f4f562296fb6b02",
		},
		{
			name:     "NilBody",
			endpoint: "/api/SessionRefresh",
			body:     nil,
			want:     "ee1f55aa6d4903ac2d7b3b53a89e20c096bc0e3e6ed757f82f4f562296fb6b02",
		},
		{
			name:     "SendOrder",
			endpoint: "/api/SendOrder",
			body: Body{
				{"symbol", "ASELS"},
				{"direction", "BUY"},
				{"pricetype", "limit"},
				{"price", "45.50"},
				{"lot", "100"},
				{"sms", false},
				{"email", true},
				{"Subaccount", ""},
			},
			want: "ebe011fad3619fef9c15e3d8e5dae36974d54bb1c0170774a318f2172ef985d2",
		},
		{
			name:     "NonASCIIAndHTML",
			endpoint: "/api/GetEquityInfo",
			body:     Body{{"symbol", "Ağ <x> &😀 z"}},
			want:     "edfb0b58f94bee0ee75d275cedf03139629df5010b0b180d425675a73c161320",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Checker(tt.endpoint, tt.body)
			if err != nil {
				t.Fatalf("Checker failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if !hexRE.MatchString(got) {
				t.Errorf("checker %q is not 64 lowercase hex chars", got)
			}
		})
	}
}

func TestChecker_Sensitivity(t *testing.T) {
	s := newTestSigner(t)
	base, _ := s.Checker("/api/SendOrder", Body{{"symbol", "ASELS"}})

	again, _ := s.Checker("/api/SendOrder", Body{{"symbol", "ASELS"}})
	if again != base {
		t.Error("checker should be deterministic")
	}

	variants := map[string]func() (string, error){
		"Value": func() (string, error) {
			return s.Checker("/api/SendOrder", Body{{"symbol", "THYAO"}})
		},
		"Endpoint": func() (string, error) {
			return s.Checker("/api/ModifyOrder", Body{{"symbol", "ASELS"}})
		},
		"Hostname": func() (string, error) {
			return NewSigner(s.Credential(), "https://example.com").Checker("/api/SendOrder", Body{{"symbol", "ASELS"}})
		},
		"Bundle": func() (string, error) {
			cred, err := ParseCredential("API-04YW0b9Cb8S0MrgBw/Y4iPYi2hjIidW7qj4hrhBhwZg=")
			if err != nil {
				return "", err
			}
			return NewSigner(cred, testHostname).Checker("/api/SendOrder", Body{{"symbol", "ASELS"}})
		},
	}
	for name, fn := range variants {
		t.Run(name, func(t *testing.T) {
			got, err := fn()
			if err != nil {
				t.Fatalf("Checker failed: %v", err)
			}
			if got == base {
				t.Errorf("changing %s should change the checker", name)
			}
		})
	}
}

func TestChecker_FieldOrderMatters(t *testing.T) {
	s := newTestSigner(t)
	a, _ := s.Checker("/api/DeleteOrder", Body{{"id", "1"}, {"Subaccount", ""}})
	b, _ := s.Checker("/api/DeleteOrder", Body{{"Subaccount", ""}, {"id", "1"}})
	if a == b {
		t.Error("field order is part of the signed body")
	}
}

func TestChecker_UnencodableValue(t *testing.T) {
	s := newTestSigner(t)
	_, err := s.Checker("/api/SendOrder", Body{{"bad", make(chan int)}})
	var cerr *CryptoError
	if !errors.As(err, &cerr) || cerr.Kind != KindInput {
		t.Fatalf("expected input CryptoError, got %v", err)
	}
}

func TestEncrypt_Golden(t *testing.T) {
	s := newTestSigner(t)
	tests := map[string]string{
		"test":        "fp9FC8UVhta90p27zPTJDw==",
		"12345678901": "heXPimnYXsHLlWstJKp5iQ==",
	}
	for in, want := range tests {
		got, err := s.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("Encrypt(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestEncryptDecrypt(t *testing.T) {
	s := newTestSigner(t)
	inputs := []string{
		"",
		"test_password_123",
		"!@#$%^&*()_+-=[]{}|;:',.<>?/~`",
		"ğüşıöçĞÜŞİÖÇ",
		"exactly16bytes!!",
	}
	for _, in := range inputs {
		ct, err := s.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", in, err)
		}
		pt, err := s.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt(%q) failed: %v", ct, err)
		}
		if pt != in {
			t.Errorf("expected %q, got %q", in, pt)
		}
	}
}

func TestDecrypt_InputErrors(t *testing.T) {
	s := newTestSigner(t)
	tests := []struct {
		name string
		in   string
	}{
		{"NotBase64", "***not base64***"},
		{"PartialBlock", "dGVzdA=="},
		{"BadPadding", "AAAAAAAAAAAAAAAAAAAAAA=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decrypt(tt.in)
			var cerr *CryptoError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected CryptoError, got %v", err)
			}
			if cerr.Kind != KindInput {
				t.Errorf("expected input kind, got %s", cerr.Kind)
			}
		})
	}
}

func TestSigner_DestroyedCredential(t *testing.T) {
	cred, err := ParseCredential(testBundle)
	if err != nil {
		t.Fatalf("ParseCredential failed: %v", err)
	}
	s := NewSigner(cred, testHostname)
	cred.Destroy()

	var cerr *CryptoError
	if _, err := s.Encrypt("x"); !errors.As(err, &cerr) || cerr.Kind != KindKey {
		t.Errorf("expected key CryptoError from Encrypt, got %v", err)
	}
	if _, err := s.Checker("/api/Portfolio", nil); !errors.As(err, &cerr) || cerr.Kind != KindKey {
		t.Errorf("expected key CryptoError from Checker, got %v", err)
	}
}
