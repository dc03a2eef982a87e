package core

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryBasicFunctionality(t *testing.T) {
	// Test that we can create independent registry instances
	registry1 := NewRegistry()
	registry2 := NewRegistry()

	// Register a test prototype in registry1
	testPrototype := &mockTestSource{}

	err := registry1.RegisterPrototype("test-factory", testPrototype)
	if err != nil {
		t.Fatalf("Failed to register factory: %v", err)
	}

	// Create a source in registry1
	err = registry1.CreateSource("test-isolation", "test-factory", nil)
	if err != nil {
		t.Fatalf("Failed to create source in registry1: %v", err)
	}

	// Verify it doesn't exist in registry2 (they should be independent instances)
	sources2 := registry2.GetAllSources()
	if _, exists := sources2["test-isolation"]; exists {
		t.Error("Source should not exist in registry2 - registries should be independent")
	}
}

func TestFactoryRegistration(t *testing.T) {
	// Test that we can register a new prototype
	testPrototype := &mockTestSource{}

	// Register the prototype
	RegisterSourcePrototype("test-factory", testPrototype)

	// Get a new registry and verify the prototype is available
	registry := GetGlobalRegistry()
	err := registry.CreateSource("test-instance", "test-factory", nil)
	if err != nil {
		t.Errorf("Failed to create source with registered prototype: %v", err)
	}

	// Verify the source was created
	sources := registry.GetAllSources()
	if _, exists := sources["test-instance"]; !exists {
		t.Error("Test source should exist after creation")
	}
}

func TestCreateSourceValidatesConfig(t *testing.T) {
	registry := NewRegistry()
	if err := registry.RegisterPrototype("test-factory", &mockTestSource{}); err != nil {
		t.Fatalf("Failed to register factory: %v", err)
	}

	err := registry.CreateSource("bad-config", "test-factory", &mockTestConfig{invalid: true})
	if err == nil {
		t.Fatal("expected config validation error")
	}
}

// Mock source for testing
type mockTestSource struct {
	instanceName string
}

func (m *mockTestSource) Type() string { return "test-factory" }
func (m *mockTestSource) Name() string {
	if m.instanceName != "" {
		return m.instanceName
	}
	return "test-source"
}
func (m *mockTestSource) Platform() string { return "test" }
func (m *mockTestSource) Discover(ctx context.Context, out chan<- RepositoryDescriptor) error {
	return nil
}
func (m *mockTestSource) Resolve(ctx context.Context, desc RepositoryDescriptor) (*Package, error) {
	return nil, nil
}
func (m *mockTestSource) ConfigType() interface{} {
	return &mockTestConfig{}
}
func (m *mockTestSource) SetConfig(config interface{}) error {
	return nil
}
func (m *mockTestSource) GetConfig() interface{} {
	return &mockTestConfig{}
}
func (m *mockTestSource) Close() error {
	return nil
}
func (m *mockTestSource) Factory(instanceName string, config interface{}) (Source, error) {
	return &mockTestSource{instanceName: instanceName}, nil
}

type mockTestConfig struct {
	invalid bool
}

func (c *mockTestConfig) Validate() error {
	if c.invalid {
		return errors.New("invalid test config")
	}
	return nil
}
