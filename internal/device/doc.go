// Package device defines the attribute-access abstraction of a connected
// Bluetooth Low Energy peripheral and the error taxonomy shared by the
// layers above it.
//
// The package covers:
//   - The Transport interface used by the session layer (resolve, read, write,
//     subscribe, descriptor fetch, disconnect)
//   - Characteristic property bit sets
//   - UUID normalization and validation
//   - Typed errors: NotFoundError, DiscoveryError, TransportError, ConnectionError
//
// Concrete transports live in sub-packages (see goble).
package device
