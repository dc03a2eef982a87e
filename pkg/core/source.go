package core

import (
	"context"
)

// Source represents one ecosystem of packages that can be discovered and
// resolved into canonical Package records. All sources in LipIndex must
// implement this interface to integrate with the system.
//
// Sources are self-contained units that:
// - Know how to find candidate repositories for their ecosystem
// - Know how to resolve a candidate into a full Package across upstreams
// - Manage their own configuration and lifecycle
//
// Key concepts:
// - Type vs Name: Type is the ecosystem (e.g., "levilamina"), Name is the instance (e.g., "levilamina_main")
// - Streaming: discovery feeds candidates through a channel, resolution is per-candidate
// - Failure isolation: one candidate failing to resolve never aborts the run
//
// Registration pattern:
//
//	func init() {
//		prototype := &Source{}
//		core.RegisterSourcePrototype("levilamina", prototype)
//	}
type Source interface {
	// Type returns the source type identifier.
	// This should be a constant string that identifies the ecosystem
	// (e.g., "levilamina", "endstone").
	// Used for factory registration and configuration matching.
	Type() string

	// Name returns the unique instance name for this source.
	// This distinguishes between different instances of the same type.
	// This is what shows up in logs and fetch metadata.
	Name() string

	// Platform returns the ecosystem marker every package from this
	// source is tagged with, e.g. "levilamina" for the
	// "platform:levilamina" tag.
	Platform() string

	// Discover finds candidate repositories and streams their
	// descriptors. It must respect context cancellation and return once
	// all candidates have been sent; the caller owns the channel and
	// closes it. A Discover error aborts the whole fetch run.
	//
	// Example pattern:
	//	for _, repo := range page {
	//		select {
	//		case <-ctx.Done():
	//			return ctx.Err()
	//		case out <- core.RepositoryDescriptor{...}:
	//		}
	//	}
	Discover(ctx context.Context, out chan<- RepositoryDescriptor) error

	// Resolve turns one discovered candidate into a full Package,
	// querying whatever upstreams the ecosystem needs (repository
	// metadata, manifests, version lists, registries).
	//
	// Returning (nil, nil) means the candidate turned out not to be a
	// package of this ecosystem (no manifest, no versions); that is a
	// normal outcome, not an error. A non-nil error marks a resolution
	// failure: the pipeline logs it and moves on to the next candidate.
	Resolve(ctx context.Context, desc RepositoryDescriptor) (*Package, error)

	// ConfigType returns a pointer to an empty configuration struct.
	// Used by the system to create and validate configurations.
	// Should return the same type that SetConfig() expects.
	ConfigType() interface{}

	// SetConfig updates the source configuration.
	// Called during initialization and when configuration changes.
	// Should validate the config and return an error if invalid.
	SetConfig(config interface{}) error

	// GetConfig returns the current configuration.
	// Used by the system to inspect or serialize current settings.
	GetConfig() interface{}

	// Close performs cleanup when the source is no longer needed.
	// Called during system shutdown or when removing a source.
	Close() error

	// Factory creates new instances of this source type.
	// Called by the registry when instantiating configured sources.
	//
	// Parameters:
	//   - instanceName: Unique name for this source instance
	//   - config: Configuration object (may be nil for defaults)
	//
	// Should validate the config and return a fully initialized source,
	// ready to use after this call.
	Factory(instanceName string, config interface{}) (Source, error)
}
