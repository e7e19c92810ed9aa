package access

import (
	"path/filepath"
	"testing"
)

func tempACLPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "acl.journal")
}

func TestCreateScopeGrantsFullControl(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.CreateScope("c1", "alice"); err != nil {
		t.Fatal(err)
	}
	if !c.HasAccess("c1", "alice", FullControl) {
		t.Fatalf("expected alice to hold FullControl over c1")
	}
	if c.HasAccess("c1", "bob", Read) {
		t.Fatalf("expected bob to have no access to c1")
	}
}

func TestHasAccessWalksAncestorScopes(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.CreateScope("c1", "alice"); err != nil {
		t.Fatal(err)
	}
	if !c.HasAccess("c1/blob.txt", "alice", Write) {
		t.Fatalf("expected a container-level grant to imply access to a blob under it")
	}
	if !c.HasAccess("c1/nested/blob.txt", "alice", Read) {
		t.Fatalf("expected a container-level grant to imply access to a nested blob under it")
	}
}

func TestHasAccessPrefersNearestAncestorEntry(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.CreateScope("c1", "alice"); err != nil {
		t.Fatal(err)
	}
	// Deny bob's write access at a narrower scope than a container-level
	// grant would otherwise be checked at.
	if err := c.SetPermissions("c1/restricted.txt", "bob", Read, Write); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPermissions("c1", "bob", Read|Write, 0); err != nil {
		t.Fatal(err)
	}
	if c.HasAccess("c1/restricted.txt", "bob", Write) {
		t.Fatalf("expected the exact-path deny to win over the container-level grant")
	}
	if !c.HasAccess("c1/other.txt", "bob", Write) {
		t.Fatalf("expected the container-level grant to apply to blobs with no exact entry")
	}
}

func TestHasAccessDeniesWithNoEntryAnywhere(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.HasAccess("c1/blob.txt", "alice", Read) {
		t.Fatalf("expected no access with no entries at all")
	}
}

func TestAdminPrincipalBypasses(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.AdminPrincipal = "root"

	if !c.HasAccess("c1/blob.txt", "root", FullControl) {
		t.Fatalf("expected admin principal to bypass access checks")
	}
}

func TestOpenPermissiveGrantsEverything(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.OpenPermissive = true

	if !c.HasAccess("anything", "nobody", FullControl) {
		t.Fatalf("expected OpenPermissive to grant every request")
	}
}

func TestSetPermissionsIsIdempotent(t *testing.T) {
	c, err := Open(tempACLPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.SetPermissions("c1", "alice", Read, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPermissions("c1", "alice", Read, 0); err != nil {
		t.Fatal(err)
	}
	if !c.HasAccess("c1", "alice", Read) {
		t.Fatalf("expected alice to retain Read after an idempotent re-set")
	}
}
