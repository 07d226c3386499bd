package auth

import (
	"errors"
	"net/http"
	"testing"
)

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier(ProviderGitHub, "")
	if err != nil || v != nil {
		t.Errorf("empty secret should yield no verifier, got %v, %v", v, err)
	}

	if _, err := NewVerifier("bitbucket-cloud", "s"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewVerifier("gihub", ""); err == nil {
		t.Error("expected error for unknown provider without a secret")
	}
}

func TestGitHubSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	v, err := NewVerifier(ProviderGitHub, "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-3] = 'x'

	tests := []struct {
		name      string
		signature string
		body      []byte
		wantErr   bool
	}{
		{name: "valid", signature: SignHMAC("s3cret", body), body: body},
		{name: "tampered body", signature: SignHMAC("s3cret", body), body: tampered, wantErr: true},
		{name: "wrong secret", signature: SignHMAC("other", body), body: body, wantErr: true},
		{name: "missing prefix", signature: SignHMAC("s3cret", body)[len("sha256="):], body: body, wantErr: true},
		{name: "not hex", signature: "sha256=zzzz", body: body, wantErr: true},
		{name: "missing header", signature: "", body: body, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.signature != "" {
				h.Set(HeaderGitHubSignature, tt.signature)
			}
			err := v.Verify(h, tt.body)
			if tt.wantErr && !errors.Is(err, ErrSignatureInvalid) {
				t.Errorf("Verify() error = %v, want ErrSignatureInvalid", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Verify() unexpected error = %v", err)
			}
		})
	}
}

func TestGiteaSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	v, err := NewVerifier(ProviderGitea, "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	h := http.Header{}
	h.Set(HeaderGiteaSignature, SignHMAC("s3cret", body)[len("sha256="):])
	if err := v.Verify(h, body); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	h.Set(HeaderGiteaSignature, SignHMAC("s3cret", []byte("other")))
	if err := v.Verify(h, body); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestGitLabToken(t *testing.T) {
	v, err := NewVerifier(ProviderGitLab, "shared-token")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "match", token: "shared-token"},
		{name: "mismatch", token: "shared-tokem", wantErr: true},
		{name: "prefix only", token: "shared", wantErr: true},
		{name: "missing", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.token != "" {
				h.Set(HeaderGitLabToken, tt.token)
			}
			err := v.Verify(h, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)

	for _, provider := range []Provider{ProviderGitHub, ProviderGitea, ProviderGitLab} {
		t.Run(string(provider), func(t *testing.T) {
			h := http.Header{}
			if err := Sign(h, provider, "s3cret", body); err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			v, err := NewVerifier(provider, "s3cret")
			if err != nil {
				t.Fatalf("NewVerifier() error = %v", err)
			}
			if err := v.Verify(h, body); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}

	if err := Sign(http.Header{}, "svn", "s3cret", body); err == nil {
		t.Error("expected error for unknown provider")
	}
}
