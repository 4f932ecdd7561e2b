// Package core provides the domain models for deterministic task execution:
// tasks, resolved inputs, and the artifacts they produce.
//
// # Design Principles
//
// All structures in this package adhere to the following constraints:
//
//  1. No implied fields that could affect determinism (e.g., timestamps)
//  2. Every field is consumed by fingerprinting, caching, or the scheduler
//  3. Structures support exact serialization for reproducible hashing
//
// # Core Types
//
// Task: A declarative definition of work to be executed deterministically.
// Input: A resolved file whose content contributes to task identity.
// Artifact: A file produced by a task and declared in outputs.
package core
