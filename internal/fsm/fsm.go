// Package fsm holds the pure connection state machines for both roles.
package fsm

import "fmt"

func invalidTransition[S ~string, E ~string](state S, event E) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
