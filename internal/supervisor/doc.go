// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

/*
Package supervisor provides process supervision for punchsync using suture v4.

The tree organizes the long-running services into two layers for failure
isolation:

	RootSupervisor ("punchsync")
	├── PipelineSupervisor ("pipeline-layer")
	│   └── SyncService (the adaptive polling loop)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashing sync loop is restarted with exponential backoff while the API
layer keeps serving health probes and metrics. Context cancellation triggers
an orderly shutdown of both layers; UnstoppedServiceReport names services
that missed the shutdown timeout.

Services implement suture.Service: return nil to stop cleanly, return an
error to be restarted, and return promptly once the context is canceled.
*/
package supervisor
