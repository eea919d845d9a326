// Punchsync - Biometric Attendance to HR Synchronization Bridge
// Copyright 2026 Punchsync Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/punchsync/punchsync

// Package services contains suture.Service wrappers adapting the sync loop
// and the HTTP server to the supervision tree.
package services
