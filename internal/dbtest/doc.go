/*
Package dbtest spins up database containers for tests that need a real
database, on top of testcontainers-go.

Tests that need a specific database configuration should use the
testcontainers-go modules directly instead.

To inspect a database after a test fails, keep its container running with:

	go test -dbtest.inspect

This package is intended to be used in tests only.
*/
package dbtest
