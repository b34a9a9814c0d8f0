// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Package supervisor builds the suture supervision tree that keeps the
// detection scheduler, storage maintenance, and HTTP layer running.
// Services are grouped into layer supervisors so a restart loop in one
// layer is isolated from the others.
package supervisor
