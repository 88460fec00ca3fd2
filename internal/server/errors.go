package server

import (
	"fmt"
	"strconv"
)

// BindError reports that the listen address could not be acquired.
type BindError struct {
	Host string
	Port int
	Err  error
}

func (e *BindError) Error() string {
	address := e.Host + ":" + strconv.Itoa(e.Port)
	if e.Err == nil {
		return fmt.Sprintf("bind %s: port unavailable", address)
	}
	return fmt.Sprintf("bind %s: %v", address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
