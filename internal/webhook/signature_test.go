package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"membership.went_valid"}`)
	sig := Sign("topsecret", body)

	if !VerifySignature("topsecret", body, sig) {
		t.Fatal("expected signature to verify")
	}
	if !VerifySignature("topsecret", body, strings.TrimPrefix(sig, "sha256=")) {
		t.Fatal("bare hex signature should verify")
	}
	if VerifySignature("othersecret", body, sig) {
		t.Fatal("wrong secret must not verify")
	}
	if VerifySignature("topsecret", append(body, ' '), sig) {
		t.Fatal("modified body must not verify")
	}
	if VerifySignature("topsecret", body, "") || VerifySignature("topsecret", body, "sha256=zz") {
		t.Fatal("missing or malformed signature must not verify")
	}
}
