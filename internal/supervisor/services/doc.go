// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Package services adapts long-running components to suture's Service
// interface. Each wrapper depends on a small local interface rather than
// the concrete component, which keeps the import graph acyclic and the
// wrappers testable with mocks.
package services
