package models

import "testing"

func TestRoleKnown(t *testing.T) {
	cases := map[Role]bool{
		RoleSystem:    true,
		RoleUser:      true,
		RoleAssistant: true,
		RoleFunction:  true,
		RoleNone:      false,
		Role("tool"):  false,
	}
	for role, want := range cases {
		if got := role.Known(); got != want {
			t.Fatalf("Role(%q).Known() = %v, want %v", role, got, want)
		}
	}
	if !RoleNone.IsNone() || RoleUser.IsNone() {
		t.Fatalf("IsNone mismatch")
	}
}

func TestMessageIsFunctionCall(t *testing.T) {
	call := &Message{Role: RoleFunction, Name: "f", Content: "{}"}
	if !call.IsFunctionCall() {
		t.Fatalf("expected call message")
	}
	result := &Message{Role: RoleFunction, Name: "f", Content: "{}", FunctionResult: true}
	if result.IsFunctionCall() {
		t.Fatalf("result should not count as call")
	}
	var nilMsg *Message
	if nilMsg.IsFunctionCall() {
		t.Fatalf("nil message should not be a call")
	}
	d := call.Delta()
	if d.Role != RoleFunction || d.Name != "f" || d.Content != "{}" {
		t.Fatalf("unexpected delta %+v", d)
	}
}
