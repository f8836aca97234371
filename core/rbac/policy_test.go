package rbac

import "testing"

func TestDefaultRoles(t *testing.T) {
	policy := MustPolicy(DefaultRoles())
	if !policy.Allowed([]string{RoleViewer}, AppsRead) {
		t.Fatalf("viewer should read apps")
	}
	if policy.Allowed([]string{RoleViewer}, AppsWrite) {
		t.Fatalf("viewer must not write apps")
	}
	if !policy.Allowed([]string{RoleAdmin}, AppsRead) {
		t.Fatalf("admin should inherit apps read")
	}
	if !policy.Allowed([]string{"unknown", RoleAdmin}, AdminAppsWrite) {
		t.Fatalf("any matching role should grant access")
	}
	if policy.Allowed(nil, AppsRead) {
		t.Fatalf("no roles means no access")
	}
}

func TestNilPolicyDeniesEverything(t *testing.T) {
	var p *Policy
	if p.Allowed([]string{RoleAdmin}, AppsRead) {
		t.Fatalf("nil policy must deny")
	}
}

func TestPermissionsListsInherited(t *testing.T) {
	policy := MustPolicy(DefaultRoles())
	perms := policy.Permissions(RoleAdmin)
	found := false
	for _, p := range perms {
		if p == AppsRead {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected inherited apps.read in %v", perms)
	}
}
