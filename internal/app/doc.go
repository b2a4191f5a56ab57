// Package app composes the Motionblinds bridge into a running application.
//
// The layout follows a composition-over-logic split:
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── entry/          # Config entries
//	│   ├── device/         # Device registry records
//	│   └── blind/          # Blind state snapshots
//	├── storage/            # Store interfaces plus memory/ and postgres/
//	├── dispatcher/         # In-process signal bus with optional mirrors
//	├── services/           # Entry lifecycle, coordinators, registry,
//	│                       # service calls, maintenance jobs
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// Gateway protocol access lives in internal/motion; everything in this
// package talks to gateways through its interfaces so tests can substitute
// fakes.
package app
