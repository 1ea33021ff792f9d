// Package common contains utilities shared by all Halo packages: the coded
// error type used across subsystem boundaries, a rolling window cache, and a
// logger adapter for tests.
package common
