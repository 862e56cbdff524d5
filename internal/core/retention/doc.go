// Package retention provides the pure release-retention derivation.
//
// Given one snapshot of projects, environments, releases and deployments,
// Derive computes for every (project, environment) pair the versions of the
// most recently deployed releases, capped at N. All functions are pure
// (no I/O, no side effects); the snapshot passed in is never modified.
//
// # Algorithm
//
//  1. Deployments are stable-sorted newest first by DeployedAt.
//  2. For each environment the sorted deployments are filtered by EnvironmentID.
//  3. For each project the filtered deployments are walked in order; a
//     deployment contributes the Version of the release matching both its
//     ReleaseID and the project ID. Walking stops at N versions.
//
// Deployments without a matching release for the project are skipped and do
// not count toward N. Versions are not deduplicated. Stats reports how many
// deployments could not be attributed to any release or environment.
//
// # Usage
//
// The engine (internal/engine) calls Derive lazily after each load:
//
//	result := retention.Derive(snapshot, 3)
//	versions := result.Releases.Versions("Pet Shop", "Staging")
package retention
