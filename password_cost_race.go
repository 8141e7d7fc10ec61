//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// Race builds hash far slower; keep the suite within its timeouts.
func passwordHashCost() int {
	return bcrypt.MinCost
}
