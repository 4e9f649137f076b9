// Package catalog holds the static service/characteristic catalog of the bike
// controller and the registry used to look codecs up by attribute identity.
package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/bikeble/internal/codec"
	"github.com/srg/bikeble/internal/device"
)

// Display groups
const (
	GroupBikeInfo = "Bike Info"
	GroupBattery  = "Battery"
	GroupLights   = "Lights"
	GroupMotor    = "Motor"
	GroupVersions = "Versions"
)

// Service UUIDs
const (
	BikeInfoServiceUUID = "2f4ce2a3-fcbb-4f3a-b561-b9d78b5aae00"
	StatsServiceUUID    = "105c6761-74bf-4ffe-94ea-f8ba79f20600"
)

// CharacteristicDescriptor describes one configured characteristic
type CharacteristicDescriptor struct {
	ServiceUUID string
	UUID        string
	Name        string
	Codec       codec.Codec
	Writable    bool
	Notify      bool
	Group       string

	// Unconfirmed marks a decode rule that has not been verified against a device
	Unconfirmed bool
}

// Key returns the normalized (service, characteristic) identity
func (d *CharacteristicDescriptor) Key() string {
	return key(d.ServiceUUID, d.UUID)
}

// Enumerated returns the writable codec of d, if any
func (d *CharacteristicDescriptor) Enumerated() (codec.Enumerated, bool) {
	if !d.Writable {
		return nil, false
	}
	e, ok := d.Codec.(codec.Enumerated)
	return e, ok
}

// ServiceDescriptor is a configured service and its ordered characteristics
type ServiceDescriptor struct {
	UUID            string
	Name            string
	Characteristics []CharacteristicDescriptor
}

// Registry is an immutable index over a set of ServiceDescriptors
type Registry struct {
	services []ServiceDescriptor
	byKey    map[string]*CharacteristicDescriptor
	byName   map[string]*CharacteristicDescriptor
}

// New validates services and builds a registry over them.
// Every UUID must parse as a 128-bit UUID and every (service, characteristic) pair must be unique.
func New(services []ServiceDescriptor) (*Registry, error) {
	r := &Registry{
		services: make([]ServiceDescriptor, len(services)),
		byKey:    make(map[string]*CharacteristicDescriptor),
		byName:   make(map[string]*CharacteristicDescriptor),
	}
	copy(r.services, services)

	for si := range r.services {
		svc := &r.services[si]
		if _, err := uuid.Parse(svc.UUID); err != nil {
			return nil, fmt.Errorf("service %q: invalid UUID %q: %w", svc.Name, svc.UUID, err)
		}
		svc.Characteristics = append([]CharacteristicDescriptor(nil), svc.Characteristics...)

		for ci := range svc.Characteristics {
			d := &svc.Characteristics[ci]
			if _, err := uuid.Parse(d.UUID); err != nil {
				return nil, fmt.Errorf("characteristic %q: invalid UUID %q: %w", d.Name, d.UUID, err)
			}
			if d.ServiceUUID == "" {
				d.ServiceUUID = svc.UUID
			}
			if !device.SameUUID(d.ServiceUUID, svc.UUID) {
				return nil, fmt.Errorf("characteristic %q: service UUID %s does not match enclosing service %s", d.Name, d.ServiceUUID, svc.UUID)
			}
			if d.Codec == nil {
				d.Codec = codec.Raw
			}
			if _, ok := d.Enumerated(); d.Writable && !ok {
				return nil, fmt.Errorf("characteristic %q: writable but codec %s has no value domain", d.Name, d.Codec.Name())
			}

			k := d.Key()
			if _, dup := r.byKey[k]; dup {
				return nil, fmt.Errorf("characteristic %q: duplicate identity %s", d.Name, k)
			}
			r.byKey[k] = d

			name := strings.ToLower(d.Name)
			if _, dup := r.byName[name]; dup {
				return nil, fmt.Errorf("characteristic %q: duplicate name", d.Name)
			}
			r.byName[name] = d
		}
	}
	return r, nil
}

// MustNew is like New but panics on an invalid catalog
func MustNew(services []ServiceDescriptor) *Registry {
	r, err := New(services)
	if err != nil {
		panic("catalog: " + err.Error())
	}
	return r
}

// Lookup returns the descriptor for the (service, characteristic) pair.
// UUIDs are compared case-insensitively with optional dashes.
func (r *Registry) Lookup(serviceUUID, charUUID string) (*CharacteristicDescriptor, error) {
	if d, ok := r.byKey[key(serviceUUID, charUUID)]; ok {
		return d, nil
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
}

// LookupName finds a characteristic by display name (case-insensitive)
// or by characteristic UUID alone.
func (r *Registry) LookupName(nameOrUUID string) (*CharacteristicDescriptor, error) {
	if d, ok := r.byName[strings.ToLower(strings.TrimSpace(nameOrUUID))]; ok {
		return d, nil
	}
	n := device.NormalizeUUID(nameOrUUID)
	for _, d := range r.byKey {
		if device.NormalizeUUID(d.UUID) == n {
			return d, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{nameOrUUID}}
}

// Services returns the configured services in catalog order
func (r *Registry) Services() []ServiceDescriptor {
	return r.services
}

// Characteristics returns every descriptor in catalog order
func (r *Registry) Characteristics() []*CharacteristicDescriptor {
	var out []*CharacteristicDescriptor
	for si := range r.services {
		for ci := range r.services[si].Characteristics {
			out = append(out, &r.services[si].Characteristics[ci])
		}
	}
	return out
}

// Groups returns the descriptors bucketed by display group, in first-seen order
func (r *Registry) Groups() ([]string, map[string][]*CharacteristicDescriptor) {
	var order []string
	groups := make(map[string][]*CharacteristicDescriptor)
	for _, d := range r.Characteristics() {
		if _, ok := groups[d.Group]; !ok {
			order = append(order, d.Group)
		}
		groups[d.Group] = append(groups[d.Group], d)
	}
	return order, groups
}

func key(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in bike controller catalog
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = MustNew(BikeServices())
	})
	return defaultRegistry
}
