// Package app provides the application composition layer for the storefront.
//
// # Architecture Role
//
// The app package composes the storefront services into a running
// application. It is NOT a business logic layer - business logic belongs in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Identity bindings and denominated balances
//	│   ├── inventory/      # Products, fulfillment items, world info
//	│   └── ledger/         # Immutable transaction records
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (AccountStore, InventoryStore, etc.)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── balance/        # Registration, balance reads and atomic updates
//	│   ├── catalog/        # Read-through product and stock lookups
//	│   ├── purchase/       # The order-processing engine
//	│   └── display/        # Scheduled stock snapshot publisher
//	├── httpapi/            # HTTP API handlers and routing
//	├── system/             # System management (lifecycle, service registry)
//	└── metrics/            # Application metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services with their storage, cache, and lock dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Managing application-level concerns (metrics, lifecycle)
//
// Cross-cutting infrastructure lives one level up: internal/cache (adaptive
// TTL cache with invalidation fanout), internal/keymutex (per-key locks),
// internal/retry (bounded retries), internal/config, and internal/database.
//
// # Dependency Direction
//
//	cmd/storefront/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces only)
//	      │
//	      ├──► internal/cache/, internal/keymutex/ (infrastructure)
//	      │
//	      └──► internal/app/storage/memory|postgres/ (drivers)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "auctions"):
//
//  1. Create domain models in internal/app/domain/auction/
//  2. Add storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create service in internal/app/services/auction/service.go
//  5. Wire service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
