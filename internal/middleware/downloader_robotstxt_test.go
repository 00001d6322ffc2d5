package middleware

import "testing"

func TestMatchRobotsPattern_PrefixMatch(t *testing.T) {
	if !matchRobotsPattern("/admin", "/admin/settings") {
		t.Fatal("expected prefix match")
	}
	if matchRobotsPattern("/admin", "/public") {
		t.Fatal("unexpected match")
	}
}

func TestMatchRobotsPattern_Wildcard(t *testing.T) {
	if !matchRobotsPattern("/private/*/edit", "/private/42/edit") {
		t.Fatal("expected wildcard match")
	}
	if matchRobotsPattern("/private/*/edit", "/private/42/view") {
		t.Fatal("unexpected wildcard match")
	}
}

func TestMatchRobotsPattern_EndAnchor(t *testing.T) {
	if !matchRobotsPattern("/file.pdf$", "/file.pdf") {
		t.Fatal("expected end-anchored match")
	}
	if matchRobotsPattern("/file.pdf$", "/file.pdf?download=1") {
		t.Fatal("end anchor should not match with a suffix present")
	}
}

func TestPathOf(t *testing.T) {
	if got := pathOf("https://example.com/a/b?x=1"); got != "/a/b" {
		t.Fatalf("pathOf = %q", got)
	}
	if got := pathOf("https://example.com"); got != "/" {
		t.Fatalf("pathOf root = %q", got)
	}
}

func TestOriginOf(t *testing.T) {
	if got := originOf("https://example.com/a/b"); got != "https://example.com" {
		t.Fatalf("originOf = %q", got)
	}
}

func TestRobotsTxtMiddleware_ParseAllowDisallow(t *testing.T) {
	m := NewRobotsTxtMiddleware("qcrawl")
	rules := m.parse("User-agent: *\nDisallow: /private\nAllow: /private/public\n")
	if !m.isAllowed(rules, "/open") {
		t.Fatal("unrestricted path should be allowed")
	}
	if m.isAllowed(rules, "/private/secret") {
		t.Fatal("disallowed path should not be allowed")
	}
	if !m.isAllowed(rules, "/private/public") {
		t.Fatal("explicit allow should override disallow")
	}
}
