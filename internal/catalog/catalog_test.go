package catalog

import "testing"

func TestDatasetRecord_Protected(t *testing.T) {
	public := &DatasetRecord{}
	if public.Protected() {
		t.Error("expected a record with no password hash to be unprotected")
	}
	private := &DatasetRecord{PasswordHash: "deadbeef"}
	if !private.Protected() {
		t.Error("expected a record with a password hash to be protected")
	}
}

func TestFactory_RegisterAndCreate(t *testing.T) {
	const testType Type = "test-backend"
	called := false
	Register(testType, func(config map[string]interface{}) (Catalog, error) {
		called = true
		return nil, nil
	})

	if !IsSupported(testType) {
		t.Fatal("expected the registered backend to be supported")
	}
	if _, err := Create(testType, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !called {
		t.Error("expected the registered factory to run")
	}
}

func TestFactory_CreateUnknownBackendErrors(t *testing.T) {
	if _, err := Create(Type("does-not-exist"), nil); err == nil {
		t.Fatal("expected an error for an unregistered backend")
	}
}

func TestFactory_IsSupportedFalseForUnknown(t *testing.T) {
	if IsSupported(Type("nope")) {
		t.Error("expected an unregistered backend to report unsupported")
	}
}
