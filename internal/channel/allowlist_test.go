package channel

import "testing"

func TestAllowListWildcardAllowsAnyone(t *testing.T) {
	a := AllowList{"*"}
	for _, sender := range []string{"+1234567890", "random@icloud.com", ""} {
		if !a.Allows(sender) {
			t.Errorf("wildcard should allow %q", sender)
		}
	}
}

func TestAllowListWildcardAmongOthersStillAllowsAll(t *testing.T) {
	a := AllowList{"+111", "*", "+222"}
	if !a.Allows("totally-unknown") {
		t.Error("wildcard among other entries should allow everyone")
	}
}

func TestAllowListSpecificSenders(t *testing.T) {
	a := AllowList{"+1234567890", "user@icloud.com"}

	if !a.Allows("+1234567890") {
		t.Error("listed phone number should be allowed")
	}
	if !a.Allows("user@icloud.com") {
		t.Error("listed address should be allowed")
	}
	if a.Allows("+9999999999") {
		t.Error("unknown number should be denied")
	}
	if a.Allows("hacker@evil.com") {
		t.Error("unknown address should be denied")
	}
}

func TestAllowListCaseInsensitive(t *testing.T) {
	a := AllowList{"User@iCloud.com"}
	if !a.Allows("user@icloud.com") {
		t.Error("lowercase variant should match")
	}
	if !a.Allows("USER@ICLOUD.COM") {
		t.Error("uppercase variant should match")
	}
}

func TestAllowListEmptyDeniesAll(t *testing.T) {
	a := AllowList{}
	if a.Allows("+1234567890") || a.Allows("anyone") || a.Allows("") {
		t.Error("empty allow-list must deny every sender")
	}
}

func TestAllowListNoSubstringMatching(t *testing.T) {
	a := AllowList{"+1234567890"}
	if a.Allows("+123456789") {
		t.Error("prefix must not match")
	}
	if a.Allows("+12345678901") {
		t.Error("superstring must not match")
	}
}

func TestAllowListWhitespaceSensitive(t *testing.T) {
	a := AllowList{"  spaced  "}
	if !a.Allows("  spaced  ") {
		t.Error("identical spacing should match")
	}
	if a.Allows("spaced") {
		t.Error("trimmed variant must not match")
	}
}

func TestAllowsAny(t *testing.T) {
	a := AllowList{"alice"}
	if !a.AllowsAny("12345", "alice") {
		t.Error("second identity should be allowed")
	}
	if a.AllowsAny("", "bob") {
		t.Error("no identity is allowed")
	}
	if a.AllowsAny() {
		t.Error("no identities at all must be denied")
	}
}
