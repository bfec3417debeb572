package transport

import (
	"testing"

	"funnel_builder_backend/platform/validator"
)

func TestTriggerTypeTags(t *testing.T) {
	val := validator.New()
	if err := RegisterValidations(val); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := val.Struct(AppTriggerRequest{Type: "upsell_complete"}); err != nil {
		t.Fatalf("app trigger type should be accepted: %v", err)
	}
	if err := val.Struct(AppTriggerRequest{Type: "membership_buy"}); err == nil {
		t.Fatal("membership trigger type must be rejected on an app trigger")
	}
	if err := val.Struct(MembershipTriggerRequest{Type: "cancel_membership"}); err != nil {
		t.Fatalf("membership trigger type should be accepted: %v", err)
	}
	if err := val.Struct(MembershipTriggerRequest{Type: ""}); err == nil {
		t.Fatal("empty trigger type must be rejected")
	}
}
